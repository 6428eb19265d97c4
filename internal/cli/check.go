package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/bladewing/XSS-Validator/internal/checker"
	"github.com/bladewing/XSS-Validator/internal/observability"
)

type checkOptions struct {
	mode      string
	url       string
	payload   string
	param     string
	selector  string
	timeoutMS int64
}

func newCheckCmd(v *viper.Viper) *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a single check and print the JSON result",
		Example: `  xss-validator check --mode input --url http://localhost:8081/ --payload '<Script>success()</Script>'
  xss-validator check --mode url --url 'http://localhost:8081/search?q=%3CScript%3Esuccess()%3C/Script%3E'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, v, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.mode, "mode", "m", "url", "delivery mode: url or input")
	f.StringVarP(&opts.url, "url", "u", "", "target URL")
	f.StringVarP(&opts.payload, "payload", "p", "", "payload to deliver")
	f.StringVar(&opts.param, "param", "", "query parameter for the payload in url mode (default from config)")
	f.StringVar(&opts.selector, "selector", "", "CSS selector of the input in input mode (default from config)")
	f.Int64Var(&opts.timeoutMS, "timeout-ms", 0, "popup detection window in milliseconds (default from config)")
	cmd.MarkFlagRequired("url")

	return cmd
}

// runCheck prints the result as JSON on stdout. Logs go to stderr.
// A failed check prints the error body and returns the error, so the exit code is non-zero.
func runCheck(cmd *cobra.Command, v *viper.Viper, opts *checkOptions) error {
	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")

	mode, err := checker.ParseMode(opts.mode)
	if err != nil {
		out.Encode(checker.ReportError(err))
		return err
	}
	timeout, err := checker.TimeoutFromMS(opts.timeoutMS)
	if err != nil {
		out.Encode(checker.ReportError(err))
		return err
	}

	cfg, err := loadConfig(v, zapcore.Lock(os.Stderr))
	if err != nil {
		return err
	}
	logger := observability.GetLogger()

	mgr, err := newBrowserManager(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	result, err := checker.New(cfg, mgr, logger).Check(cmd.Context(), "", checker.CheckRequest{
		TargetURL: opts.url,
		Payload:   opts.payload,
		Mode:      mode,
		Timeout:   timeout,
		Param:     opts.param,
		Selector:  opts.selector,
	})
	if err != nil {
		out.Encode(checker.ReportError(err))
		return err
	}
	return out.Encode(result)
}
