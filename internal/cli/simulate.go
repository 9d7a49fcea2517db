package cli

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/telemetry"
)

var (
	simSteps    int
	simLogEvery int
	simRunName  string
	simInterval time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a synthetic training loop that exercises the telemetry logger",
	Long: `Drive the full telemetry surface with a synthetic training loop: a start
record, periodic step records with decaying noisy loss, epoch summaries,
checkpoints, eval records, and control-file polling. Useful for trying the
watch dashboard without a real training job.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if simLogEvery < 1 {
			return fmt.Errorf("--log-every must be at least 1, got %d", simLogEvery)
		}
		if simSteps < 1 {
			return fmt.Errorf("--steps must be at least 1, got %d", simSteps)
		}

		runName := simRunName
		if runName == "" {
			runName = telemetry.RunNameFromConfig(nil)
		}

		logger, err := newRunLogger(runName)
		if err != nil {
			return err
		}
		defer logger.Close()

		fmt.Printf("Simulating run %q (%d steps, logging every %d).\n", runName, simSteps, simLogEvery)
		fmt.Printf("Watch it with: aitel watch %s\n", runName)

		logger.LogStart(
			map[string]any{"config_name": "simulated", "process_type": "simulate"},
			map[string]any{"lora_type": "lora", "lora_rank": 16, "lora_alpha": 16.0},
			map[string]any{"model_name_or_path": "synthetic/decay-model", "quantize": false},
			map[string]any{"batch_size": 4, "learning_rate": 1e-4, "optimizer": "adamw", "max_steps": simSteps},
		)

		logEvery := simLogEvery
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		stepsPerEpoch := simSteps / 4
		if stepsPerEpoch < 1 {
			stepsPerEpoch = 1
		}

		for step := 1; step <= simSteps; step++ {
			epoch := (step - 1) / stepsPerEpoch

			if req := logger.CheckControlFile(); req != nil {
				if v, ok := req.LogEvery(); ok && v != logEvery {
					logger.LogControlChange(logEvery, v, "dashboard")
					fmt.Printf("control: log_every %d -> %d\n", logEvery, v)
					logEvery = v
				}
				logger.AckControl(req)
			}

			if step%logEvery == 0 {
				loss := 2.0*math.Exp(-float64(step)/float64(simSteps)) + rng.Float64()*0.05
				logger.LogStep(step, epoch, map[string]any{
					"train_loss":    loss,
					"learning_rate": 1e-4 * (1 - float64(step)/float64(simSteps)),
					"grad_norm":     0.5 + rng.Float64(),
				})
			}

			if step%stepsPerEpoch == 0 {
				logger.LogEpoch(epoch, map[string]any{"epoch_loss": 2.0 * math.Exp(-float64(step)/float64(simSteps))})
				logger.LogEval(step, map[string]any{"loss": 2.1 * math.Exp(-float64(step)/float64(simSteps))})
				logger.LogCheckpoint(step, fmt.Sprintf("checkpoints/step-%d.safetensors", step), step == simSteps)
			}

			time.Sleep(simInterval)
		}

		fmt.Println("Simulation complete.")
		return nil
	},
}

// newRunLogger builds a RunLogger wired with the configured integrations.
func newRunLogger(runName string) (*telemetry.RunLogger, error) {
	var integrations []telemetry.ExternalIntegration

	if Cfg.Integrations.ScalarMirror {
		mirror, err := telemetry.NewScalarMirror(runDirFor(runName))
		if err != nil {
			return nil, fmt.Errorf("enabling scalar mirror: %w", err)
		}
		integrations = append(integrations, mirror)
	}
	if Cfg.Integrations.Tracker.Enabled {
		integrations = append(integrations,
			telemetry.NewTrackerClient(runName, Cfg.Integrations.Tracker.Endpoint))
	}

	logger, err := telemetry.NewRunLogger(telemetry.Config{
		RunName:      runName,
		LogDir:       Cfg.LogDir,
		Integrations: integrations,
		Logger:       Log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating run logger: %w", err)
	}

	logger.Control().SetTimings(
		time.Duration(Cfg.ControlPollSeconds)*time.Second,
		time.Duration(Cfg.ControlDebounceSeconds)*time.Second,
	)
	return logger, nil
}

func runDirFor(runName string) string {
	return filepath.Join(Cfg.LogDir, runName)
}

func init() {
	simulateCmd.Flags().IntVar(&simSteps, "steps", 200, "number of training steps to simulate")
	simulateCmd.Flags().IntVar(&simLogEvery, "log-every", 1, "log a step record every N steps")
	simulateCmd.Flags().StringVar(&simRunName, "run", "", "run name (default: timestamped)")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", 100*time.Millisecond, "wall-clock delay per step")
	rootCmd.AddCommand(simulateCmd)
}
