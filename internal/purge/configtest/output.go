package configtest

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
)

// PrintPurgerSummary prints the effective purger settings
func PrintPurgerSummary(w io.Writer, cfg *configtypes.PurgerConfig) {
	fmt.Fprintf(w, "\n=== Purger: %s ===\n", cfg.Name)
	fmt.Fprintf(w, "Endpoint: %s://%s:%d%s\n", cfg.Scheme, cfg.Hostname, cfg.Port, cfg.Path)
	fmt.Fprintf(w, "Proxy: %s (account %s, application %s, environment %s)\n",
		cfg.Proxy, cfg.Account, cfg.Application, cfg.Environment)
	if cfg.SiteName != "" {
		fmt.Fprintf(w, "Site: %s\n", cfg.SiteName)
	}
	fmt.Fprintf(w, "Method: %s\n", cfg.RequestMethod)
	fmt.Fprintf(w, "Timeouts: connect %s, request %s\n",
		formatDuration(cfg.ConnectTimeout.ToDuration()), formatDuration(cfg.Timeout.ToDuration()))
	fmt.Fprintf(w, "Max requests: %d, cooldown %s\n", cfg.MaxRequests, formatDuration(cfg.CooldownTime.ToDuration()))
	fmt.Fprintf(w, "Bundle tags: %t\n", cfg.IsBundleTags())
}

// PrintExpressionTestResult prints one expression test
func PrintExpressionTestResult(w io.Writer, result *ExpressionTestResult) {
	fmt.Fprintf(w, "\nTesting %s expression: %q\n", result.Type, result.Expression)
	if result.Error != "" {
		fmt.Fprintf(w, "ERROR: %s\n", result.Error)
		return
	}

	if result.Bundled {
		fmt.Fprintln(w, "Mode: bundled (hashed tags)")
	}
	fmt.Fprintf(w, "Ban expression: %s\n", result.Compiled)
	fmt.Fprintf(w, "Request: %s %s\n", result.Method, result.URI)

	if len(result.Headers) > 0 {
		names := make([]string, 0, len(result.Headers))
		for name := range result.Headers {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(w, "Headers:")
		for _, name := range names {
			fmt.Fprintf(w, "  - %s: %s\n", name, result.Headers[name])
		}
	}

	if result.Digest != nil {
		fmt.Fprintf(w, "Tag digest: %s\n", result.Digest.Sum)
		fmt.Fprintf(w, "Response header: %s: %s\n", result.HashedHeaderName, result.SectionHeader)
	}
	if result.PurgeHeader != "" {
		fmt.Fprintf(w, "Response header: %s: %s\n", result.RawHeaderName, result.PurgeHeader)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.String()
}
