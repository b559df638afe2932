package cli

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"chatsync/pkg/client"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	vegeta "github.com/tsenart/vegeta/lib"
)

type benchConfig struct {
	Server   string
	Token    string
	Conv     string
	RPS      int
	Duration time.Duration
	Limit    int
	Seed     int
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().Int("rps", 200, "requests per second")
	benchCmd.Flags().Duration("duration", 30*time.Second, "benchmark duration")
	benchCmd.Flags().Int("limit", 50, "history page size")
	benchCmd.Flags().Int("seed", 100, "messages to post before reading; 0 uses the conversation as is")
}

var benchCmd = &cobra.Command{
	Use:   "bench <conversation-id>",
	Short: "Load test the history endpoint of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := requireConfig(cmd)
		if err != nil {
			return err
		}
		initLogging(cmd)
		bc := benchConfig{Server: cfg.Server, Token: cfg.Token, Conv: args[0]}
		bc.RPS, _ = cmd.Flags().GetInt("rps")
		bc.Duration, _ = cmd.Flags().GetDuration("duration")
		bc.Limit, _ = cmd.Flags().GetInt("limit")
		bc.Seed, _ = cmd.Flags().GetInt("seed")

		if bc.Seed > 0 {
			fmt.Printf("Seeding %d messages...\n", bc.Seed)
			if err := seedMessages(cmd.Context(), bc); err != nil {
				return err
			}
		}
		if v, _ := cmd.Flags().GetBool("verbose"); v {
			fmt.Printf("Starting benchmark: %d rps for %v against %s (workers %d)\n", bc.RPS, bc.Duration, bc.Server, runtime.NumCPU())
		}
		m := runHistoryBench(bc)
		printBench(m)
		return nil
	},
}

// seedMessages posts through the REST send endpoint so the benchmark reads
// real pages.
func seedMessages(ctx context.Context, bc benchConfig) error {
	r := client.NewREST(bc.Server, bc.Token)
	for i := 0; i < bc.Seed; i++ {
		body := map[string]any{"content": fmt.Sprintf("bench message %d", i)}
		if err := r.Do(ctx, "POST", "/v1/conversations/"+bc.Conv+"/messages", body, nil); err != nil {
			return fmt.Errorf("seed message %d: %w", i, err)
		}
	}
	return nil
}

func historyTargets(bc benchConfig, n int) []vegeta.Target {
	header := http.Header{"Authorization": {"Bearer " + bc.Token}}
	targets := make([]vegeta.Target, 0, n)
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("%s/v1/conversations/%s/messages?limit=%d", bc.Server, bc.Conv, bc.Limit)
		if i%2 == 1 {
			// alternate newest-page reads with delta syncs from the start
			url += "&after_seq=0"
		}
		targets = append(targets, vegeta.Target{Method: "GET", URL: url, Header: header})
	}
	return targets
}

func runHistoryBench(bc benchConfig) *vegeta.Metrics {
	n := bc.RPS * int(bc.Duration.Seconds())
	if n < 1 {
		n = 1
	}
	targeter := vegeta.NewStaticTargeter(historyTargets(bc, n)...)
	rate := vegeta.Rate{Freq: bc.RPS, Per: time.Second}
	attacker := vegeta.NewAttacker(vegeta.Workers(uint64(runtime.NumCPU())))

	results := &vegeta.Metrics{}
	start := time.Now()
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	resChan := attacker.Attack(targeter, rate, bc.Duration, "history")
	for {
		select {
		case res, ok := <-resChan:
			if !ok {
				results.Close()
				fmt.Println()
				return results
			}
			results.Add(res)
		case <-tick.C:
			fmt.Printf("\rRequests: %d | Elapsed: %v", results.Requests, time.Since(start).Round(time.Second))
		}
	}
}

func printBench(m *vegeta.Metrics) {
	fmt.Println("Results")
	fmt.Println("=======")
	fmt.Printf("Requests:   %s (%.1f/s)\n", humanize.Comma(int64(m.Requests)), m.Rate)
	fmt.Printf("Success:    %.2f%%\n", m.Success*100)
	fmt.Printf("Latency:    mean %v, p50 %v, p95 %v, p99 %v, max %v\n",
		m.Latencies.Mean, m.Latencies.P50, m.Latencies.P95, m.Latencies.P99, m.Latencies.Max)
	fmt.Printf("Bytes in:   %s\n", humanize.Bytes(m.BytesIn.Total))
	for code, n := range m.StatusCodes {
		fmt.Printf("Status %s: %d\n", code, n)
	}
	for _, e := range m.Errors {
		fmt.Printf("Error: %s\n", e)
	}
}
