/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// voiceradar-cli prints activity reports straight from a snapshot database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/carverauto/voiceradar/pkg/logger"
	"github.com/carverauto/voiceradar/pkg/stats"
	"github.com/carverauto/voiceradar/pkg/store"
)

const usage = `Usage: voiceradar-cli [flags] <command>

Commands:
  summary     Overall activity summary
  top         Top users by online time
  idle        Idle-time ranking
  heatmap     Hourly activity heatmap
  daily       Activity by day of week
  channels    Channel popularity
  growth      New vs returning users
  hoppers     Channel-hop ranking
  patterns    Connection patterns per user
  ltv         Engagement scores and bands
  peaks       Busiest moments
  online      Who is online right now
  user        Detailed report for one client (-client required)
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dbPath := flag.String("db", "voiceradar.db", "Path to the sqlite snapshot database")
	days := flag.Int("days", 7, "Window size in days, 0 for all history")
	limit := flag.Int("limit", 15, "Maximum rows to print")
	clientID := flag.String("client", "", "Client id for the user command")
	grace := flag.Duration("grace", 0, "Session grace period, 0 for twice the poll interval")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()

	// Reports go to stdout, so keep log noise on stderr and quiet.
	cliLogger, err := logger.New(&logger.Config{Level: "error", Output: "stderr"})
	if err != nil {
		return err
	}

	s, err := store.OpenSQLite(ctx, *dbPath, cliLogger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	engine := stats.NewEngine(s, *grace, cliLogger)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	switch flag.Arg(0) {
	case "summary":
		return printSummary(ctx, w, engine, *days)
	case "top":
		return printTop(ctx, w, engine, *days, *limit)
	case "idle":
		return printIdle(ctx, w, engine, *days, *limit)
	case "heatmap":
		return printHeatmap(ctx, w, engine, *days)
	case "daily":
		return printDaily(ctx, w, engine, *days)
	case "channels":
		return printChannels(ctx, w, engine, *days)
	case "growth":
		return printGrowth(ctx, w, engine, *days)
	case "hoppers":
		return printHoppers(ctx, w, engine, *days, *limit)
	case "patterns":
		return printPatterns(ctx, w, engine, *days, *limit)
	case "ltv":
		return printEngagement(ctx, w, engine, *days, *limit)
	case "peaks":
		return printPeaks(ctx, w, engine, *days, *limit)
	case "online":
		return printOnline(ctx, w, engine)
	case "user":
		if *clientID == "" {
			return fmt.Errorf("the user command requires -client")
		}

		return printUser(ctx, w, engine, *clientID, *days)
	default:
		flag.Usage()
		os.Exit(2)
	}

	return nil
}

func printSummary(ctx context.Context, w *tabwriter.Writer, e *stats.Engine, days int) error {
	s, err := e.Summary(ctx, days)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Snapshots:\t%d\n", s.TotalSnapshots)
	fmt.Fprintf(w, "Average online:\t%.1f\n", s.AvgOnline)
	fmt.Fprintf(w, "Peak online:\t%d\n", s.MaxOnline)
	fmt.Fprintf(w, "Unique users:\t%d\n", s.UniqueUsers)

	return nil
}

func printTop(ctx context.Context, w *tabwriter.Writer, e *stats.Engine, days, limit int) error {
	users, err := e.TopUsers(ctx, days, limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "#\tNICKNAME\tONLINE\tSAMPLES\tLAST SEEN")

	for i, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%.1fh\t%d\t%s\n",
			i+1, u.Nickname, u.OnlineHours, u.Samples, formatTime(u.LastSeen))
	}

	return nil
}

func printIdle(ctx context.Context, w *tabwriter.Writer, e *stats.Engine, days, limit int) error {
	users, err := e.IdleRanking(ctx, days, limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "#\tNICKNAME\tIDLE\tSAMPLES")

	for i, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%.1fh\t%d\n", i+1, u.Nickname, u.IdleHours, u.Samples)
	}

	return nil
}

func printHeatmap(ctx context.Context, w *tabwriter.Writer, e *stats.Engine, days int) error {
	buckets, err := e.HourlyHeatmap(ctx, days)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "HOUR\tAVG CLIENTS\t")

	for _, b := range buckets {
		fmt.Fprintf(w, "%02d:00\t%.1f\t%s\n", b.Hour, b.AvgClients, bar(b.AvgClients))
	}

	return nil
}

func printDaily(ctx context.Context, w *tabwriter.Writer, e *stats.Engine, days int) error {
	activity, err := e.DailyActivity(ctx, days)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "DAY\tAVG CLIENTS\t")

	for _, d := range activity {
		fmt.Fprintf(w, "%s\t%.1f\t%s\n", d.DayName, d.AvgClients, bar(d.AvgClients))
	}

	return nil
}

func printChannels(ctx context.Context, w *tabwriter.Writer, e *stats.Engine, days int) error {
	channels, err := e.ChannelPopularity(ctx, days)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "CHANNEL\tVISITS\tUNIQUE USERS")

	for _, c := range channels {
		name := c.ChannelName
		if name == "" {
			name = "#" + c.ChannelID
		}

		fmt.Fprintf(w, "%s\t%d\t%d\n", name, c.Visits, c.UniqueUsers)
	}

	return nil
}

func printGrowth(ctx context.Context, w *tabwriter.Writer, e *stats.Engine, days int) error {
	g, err := e.Growth(ctx, days)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Unique users:\t%d\n", g.TotalUnique)
	fmt.Fprintf(w, "New:\t%d (%.1f%%)\n", g.NewUsers, g.NewUserPct)
	fmt.Fprintf(w, "Returning:\t%d\n", g.ReturningUsers)

	return nil
}

func printHoppers(ctx context.Context, w *tabwriter.Writer, e *stats.Engine, days, limit int) error {
	hoppers, err := e.ChannelHoppers(ctx, days, limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "#\tNICKNAME\tHOPS\tSESSIONS")

	for i, h := range hoppers {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", i+1, h.Nickname, h.Hops, h.Sessions)
	}

	return nil
}

func printPatterns(ctx context.Context, w *tabwriter.Writer, e *stats.Engine, days, limit int) error {
	patterns, err := e.ConnectionPatterns(ctx, days, limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "#\tNICKNAME\tSESSIONS\tMEAN LENGTH")

	for i, p := range patterns {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n",
			i+1, p.Nickname, p.Sessions, (time.Duration(p.MeanSessionSeconds) * time.Second).String())
	}

	return nil
}

func printEngagement(ctx context.Context, w *tabwriter.Writer, e *stats.Engine, days, limit int) error {
	users, summary, err := e.Engagement(ctx, days, limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "#\tNICKNAME\tSCORE\tBAND\tONLINE\tACTIVE DAYS")

	for i, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%.1fh\t%d\n",
			i+1, u.Nickname, u.Score, u.Band, u.OnlineHours, u.ActiveDays)
	}

	fmt.Fprintf(w, "\nPower: %d  Regular: %d  Casual: %d  Avg score: %.1f\n",
		summary.PowerUsers, summary.RegularUsers, summary.CasualUsers, summary.AvgScore)

	return nil
}

func printPeaks(ctx context.Context, w *tabwriter.Writer, e *stats.Engine, days, limit int) error {
	peaks, err := e.PeakTimes(ctx, days, limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "WHEN\tCLIENTS")

	for _, p := range peaks {
		fmt.Fprintf(w, "%s\t%d\n", formatTime(p.Timestamp), p.TotalClients)
	}

	return nil
}

func printOnline(ctx context.Context, w *tabwriter.Writer, e *stats.Engine) error {
	online, err := e.OnlineNow(ctx)
	if err != nil {
		return err
	}

	if len(online) == 0 {
		fmt.Fprintln(w, "Nobody online.")
		return nil
	}

	fmt.Fprintf(w, "Online at %s:\n\n", formatTime(online[0].SnapshotTime))
	fmt.Fprintln(w, "NICKNAME\tCHANNEL\tIDLE\tFLAGS")

	for _, c := range online {
		fmt.Fprintf(w, "%s\t#%s\t%s\t%s\n",
			c.Nickname, c.ChannelID,
			(time.Duration(c.IdleMs) * time.Millisecond).Round(time.Second).String(),
			flags(c.Away, c.InputMuted, c.OutputMuted, c.Recording))
	}

	return nil
}

func printUser(ctx context.Context, w *tabwriter.Writer, e *stats.Engine, clientID string, days int) error {
	u, err := e.UserStats(ctx, clientID, days)
	if err != nil {
		return err
	}

	if u == nil {
		return fmt.Errorf("client %q not seen in the window", clientID)
	}

	fmt.Fprintf(w, "Nickname:\t%s\n", u.Nickname)
	fmt.Fprintf(w, "Online:\t%.1fh over %d samples\n", u.OnlineHours, u.Samples)
	fmt.Fprintf(w, "First seen:\t%s\n", formatTime(u.FirstSeen))
	fmt.Fprintf(w, "Last seen:\t%s\n", formatTime(u.LastSeen))
	fmt.Fprintf(w, "Average idle:\t%s\n", (time.Duration(u.AvgIdleMs) * time.Millisecond).Round(time.Second).String())

	if len(u.FavoriteChannels) > 0 {
		fmt.Fprintln(w, "\nCHANNEL\tVISITS")

		for _, c := range u.FavoriteChannels {
			name := c.ChannelName
			if name == "" {
				name = "#" + c.ChannelID
			}

			fmt.Fprintf(w, "%s\t%d\n", name, c.Visits)
		}
	}

	return nil
}

func formatTime(ts int64) string {
	if ts == 0 {
		return "-"
	}

	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04")
}

func bar(v float64) string {
	n := int(v + 0.5)
	if n > 40 {
		n = 40
	}

	out := make([]byte, n)
	for i := range out {
		out[i] = '#'
	}

	return string(out)
}

func flags(away, inMuted, outMuted, recording bool) string {
	out := ""

	if away {
		out += "away "
	}

	if inMuted {
		out += "mic-muted "
	}

	if outMuted {
		out += "deaf "
	}

	if recording {
		out += "rec "
	}

	if out == "" {
		return "-"
	}

	return out[:len(out)-1]
}
