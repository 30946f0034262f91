package authcheck

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/taskmanager-auth/internal/tools/common"
	"github.com/sandeepkv93/taskmanager-auth/internal/tools/loadgen"
	"github.com/sandeepkv93/taskmanager-auth/internal/tools/ui"
)

type options struct {
	baseURL     string
	ci          bool
	maxAttempts int
	profile     string
	duration    time.Duration
	rps         int
	concurrency int
	seed        uint64
}

// NewRootCommand builds the authctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "authctl", Short: "Exercise a running auth service"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newCheckCommand(opts), newLoadgenCommand(opts))
	return cmd
}

func newCheckCommand(opts *options) *cobra.Command {
	check := &cobra.Command{Use: "check", Short: "Verify lockout and refresh reuse behavior"}
	run := &cobra.Command{
		Use:   "run",
		Short: "Run the lockout and refresh-reuse scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "authctl check run", func(ctx context.Context) ([]string, error) {
				return RunScenarios(ctx, common.NewAPIClient(opts.baseURL), opts.maxAttempts)
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "authctl check run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
	run.Flags().IntVar(&opts.maxAttempts, "max-attempts", 5, "failed logins the server allows before locking")
	check.AddCommand(run)
	return check
}

func newLoadgenCommand(opts *options) *cobra.Command {
	lg := &cobra.Command{Use: "loadgen", Short: "Generate auth traffic"}
	run := &cobra.Command{
		Use:   "run",
		Short: "Drive register, login, refresh and me traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "authctl loadgen run", func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, loadgen.Config{
					BaseURL:     opts.baseURL,
					Profile:     opts.profile,
					Duration:    opts.duration,
					RPS:         opts.rps,
					Concurrency: opts.concurrency,
					Seed:        opts.seed,
				})
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("total=%d failures=%d elapsed=%s", res.TotalRequests, res.Failures, res.Elapsed.Round(time.Millisecond))}
				for _, class := range []string{"2xx", "3xx", "4xx", "5xx", "other", "error"} {
					if n := res.StatusClasses[class]; n > 0 {
						details = append(details, fmt.Sprintf("%s=%d", class, n))
					}
				}
				if res.Failures > 0 {
					return details, fmt.Errorf("%d failed requests", res.Failures)
				}
				return details, nil
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "authctl loadgen run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
	run.Flags().StringVar(&opts.profile, "profile", loadgen.ProfileMixed, "traffic profile: health, auth or mixed")
	run.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "how long to generate traffic")
	run.Flags().IntVar(&opts.rps, "rps", 20, "requests per second across all workers")
	run.Flags().IntVar(&opts.concurrency, "concurrency", 4, "concurrent workers")
	run.Flags().Uint64Var(&opts.seed, "seed", 42, "seed for operation selection")
	lg.AddCommand(run)
	return lg
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

// RunScenarios checks that repeated bad passwords lock an account and that
// replaying a rotated refresh token revokes the whole session.
func RunScenarios(ctx context.Context, client *common.APIClient, maxAttempts int) ([]string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	suffix := fmt.Sprintf("%x", time.Now().UnixNano())
	var details []string

	if err := lockoutScenario(ctx, client, "ac_lock_"+suffix, maxAttempts); err != nil {
		return details, fmt.Errorf("lockout: %w", err)
	}
	details = append(details, "lockout: ok")

	if err := reuseScenario(ctx, client, "ac_reuse_"+suffix); err != nil {
		return details, fmt.Errorf("refresh reuse: %w", err)
	}
	details = append(details, "refresh reuse: ok")
	return details, nil
}

const scenarioPassword = "Authcheck123"

func register(ctx context.Context, client *common.APIClient, username string) (common.TokenPayload, error) {
	res, err := client.Do(ctx, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@authcheck.test",
		"password": scenarioPassword,
	})
	if err != nil {
		return common.TokenPayload{}, err
	}
	if res.Status != http.StatusCreated {
		return common.TokenPayload{}, fmt.Errorf("register: status %d %s", res.Status, res.Envelope.ErrorCode())
	}
	return res.Tokens()
}

func expect(res *common.Response, status int, code string) error {
	if res.Status != status || res.Envelope.ErrorCode() != code {
		return fmt.Errorf("expected %d %s, got %d %s", status, code, res.Status, res.Envelope.ErrorCode())
	}
	return nil
}

func lockoutScenario(ctx context.Context, client *common.APIClient, username string, maxAttempts int) error {
	if _, err := register(ctx, client, username); err != nil {
		return err
	}
	wrong := map[string]string{"username": username, "password": "Wrong" + scenarioPassword}
	for i := 1; i <= maxAttempts; i++ {
		res, err := client.Do(ctx, http.MethodPost, "/auth/login", "", wrong)
		if err != nil {
			return err
		}
		want, code := http.StatusUnauthorized, "INVALID_CREDENTIALS"
		if i == maxAttempts {
			want, code = http.StatusLocked, "ACCOUNT_LOCKED"
		}
		if err := expect(res, want, code); err != nil {
			return fmt.Errorf("attempt %d: %w", i, err)
		}
	}
	res, err := client.Do(ctx, http.MethodPost, "/auth/login", "", map[string]string{"username": username, "password": scenarioPassword})
	if err != nil {
		return err
	}
	if err := expect(res, http.StatusLocked, "ACCOUNT_LOCKED"); err != nil {
		return fmt.Errorf("correct password while locked: %w", err)
	}
	if res.Header.Get("Retry-After") == "" {
		return fmt.Errorf("locked response has no Retry-After")
	}
	return nil
}

func reuseScenario(ctx context.Context, client *common.APIClient, username string) error {
	first, err := register(ctx, client, username)
	if err != nil {
		return err
	}
	res, err := client.Do(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": first.Tokens.RefreshToken})
	if err != nil {
		return err
	}
	if res.Status != http.StatusOK {
		return fmt.Errorf("rotation: status %d %s", res.Status, res.Envelope.ErrorCode())
	}
	rotated, err := res.Tokens()
	if err != nil {
		return err
	}

	res, err = client.Do(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": first.Tokens.RefreshToken})
	if err != nil {
		return err
	}
	if err := expect(res, http.StatusUnauthorized, "TOKEN_REUSE_DETECTED"); err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	res, err = client.Do(ctx, http.MethodGet, "/auth/me", rotated.Tokens.AccessToken, nil)
	if err != nil {
		return err
	}
	if res.Status != http.StatusUnauthorized {
		return fmt.Errorf("session still usable after reuse: status %d", res.Status)
	}
	return nil
}
