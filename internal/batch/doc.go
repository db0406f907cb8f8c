// Package batch is the boundary to the external batch scheduler. Scheduler
// hides the submit and queue-query commands; Slurm implements it by running
// sbatch/squeue (or configured equivalents) through a Runner, and Monitor
// blocks until a submitted job leaves the queue.
package batch
