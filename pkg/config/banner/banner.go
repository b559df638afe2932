package banner

import (
	"fmt"
	"io"

	"chatsync/pkg/config"
)

const banner = `
  ___ _         _   ___
 / __| |_  __ _| |_/ __|_  _ _ _  __
| (__| ' \/ _' |  _\__ \ || | ' \/ _|
 \___|_||_\__,_|\__|___/\_, |_||_\__|
                        |__/
`

// Print writes the startup summary for an effective config.
func Print(w io.Writer, eff config.EffectiveConfigResult, version string) {
	cfg := eff.Config
	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:   %s\n", eff.Addr)
	fmt.Fprintf(w, "DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Fprintf(w, "Version:  %s\n", version)
	}
	fmt.Fprintf(w, "Config:   %s\n", eff.Source)
	if cfg == nil {
		return
	}

	fmt.Fprintln(w, "\n== Production? =================================================")
	if n := len(cfg.Security.SigningKeys); n > 0 {
		fmt.Fprintf(w, "- Signing keys: OK (%d)\n", n)
	} else {
		fmt.Fprintln(w, "- Signing keys: MISSING (clients cannot authenticate)")
	}
	if cfg.Server.TLS.CertFile != "" {
		fmt.Fprintln(w, "- TLS: enabled")
	} else {
		fmt.Fprintln(w, "- TLS: disabled (terminate TLS upstream)")
	}
	if len(cfg.Security.CORS.AllowedOrigins) == 0 {
		fmt.Fprintln(w, "- CORS: no origins allowed")
	} else {
		fmt.Fprintf(w, "- CORS: %v\n", cfg.Security.CORS.AllowedOrigins)
	}
	fmt.Fprintf(w, "- Notifications: %s\n", cfg.Notify.Driver)
	fmt.Fprintf(w, "- Moderation: %s\n", cfg.Moderation.Driver)
	if cfg.Retention.Enabled {
		fmt.Fprintf(w, "- Retention: %s (period %s)\n", cfg.Retention.Cron, cfg.Retention.Period.Duration())
	} else {
		fmt.Fprintln(w, "- Retention: disabled")
	}
	fmt.Fprintf(w, "- Disconnect grace: %s, max frame %s\n",
		cfg.Gateway.DisconnectGrace.Duration(), cfg.Gateway.MaxFrameSize)
	fmt.Fprintln(w, "===============================================================")
}
