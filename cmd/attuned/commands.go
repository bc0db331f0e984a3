package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caldant/attuned/internal/config"
	"github.com/caldant/attuned/internal/signals"
)

// --- suggest ---

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Ask for an intent suggestion",
	Long: `Ask for an intent suggestion for the current context.

Signals can be supplied explicitly; anything omitted falls back to the
server's configured signal source (or time of day).

Examples:
  attuned suggest
  attuned suggest --recovery 28 --sleep 5.5
  attuned suggest --energy 0.8 --valence 0.7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			user = client.user
		}

		req := map[string]any{"user_id": user}
		if sig := signalsFromFlags(cmd); sig != nil {
			req["signals"] = sig
		}

		resp, err := client.post("/v1/suggest", req)
		if err != nil {
			return err
		}

		var result struct {
			Intent      string          `json:"intent"`
			Confidence  float64         `json:"confidence"`
			Reason      string          `json:"reason"`
			Source      string          `json:"source"`
			Alternative string          `json:"alternative"`
			Features    json.RawMessage `json:"features"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			out, err := json.Marshal(result)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		printSuccess("%s (confidence %.2f, %s)", result.Intent, result.Confidence, result.Source)
		printStatus("Reason", "%s", result.Reason)
		if result.Alternative != "" {
			printStatus("Alternative", "%s", result.Alternative)
		}
		return nil
	},
}

// signalsFromFlags builds an explicit signal context from whichever
// flags were actually set, or nil when none were.
func signalsFromFlags(cmd *cobra.Command) *signals.Context {
	var sig signals.Context
	set := false

	if cmd.Flags().Changed("recovery") {
		v, _ := cmd.Flags().GetFloat64("recovery")
		sig.Recovery = &v
		set = true
	}
	if cmd.Flags().Changed("strain") {
		v, _ := cmd.Flags().GetFloat64("strain")
		sig.Strain = &v
		set = true
	}
	if cmd.Flags().Changed("sleep") {
		v, _ := cmd.Flags().GetFloat64("sleep")
		sig.SleepHours = &v
		set = true
	}
	if cmd.Flags().Changed("energy") || cmd.Flags().Changed("valence") {
		energy, _ := cmd.Flags().GetFloat64("energy")
		valence, _ := cmd.Flags().GetFloat64("valence")
		sig.Mood = &signals.Mood{Energy: energy, Valence: valence}
		set = true
	}

	if !set {
		return nil
	}
	return &sig
}

func init() {
	suggestCmd.Flags().String("user", "", "user to suggest for (defaults to configured user)")
	suggestCmd.Flags().Float64("recovery", 0, "recovery score 0-100")
	suggestCmd.Flags().Float64("strain", 0, "cumulative strain score")
	suggestCmd.Flags().Float64("sleep", 0, "hours of sleep last night")
	suggestCmd.Flags().Float64("energy", 0, "mood energy 0-1")
	suggestCmd.Flags().Float64("valence", 0, "mood valence 0-1")
	suggestCmd.Flags().Bool("json", false, "print the raw suggestion JSON (includes the features to echo back with feedback)")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <intent>",
	Short: "Record what you actually chose",
	Long: `Record the intent you actually chose so suggestions improve.

Examples:
  attuned feedback workout
  attuned feedback relax --suggested focus --reason "too tired"
  attuned feedback relax --suggested focus --features "$(attuned suggest --json | jq -c .features)"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			user = client.user
		}
		suggested, _ := cmd.Flags().GetString("suggested")
		confidence, _ := cmd.Flags().GetFloat64("confidence")
		reason, _ := cmd.Flags().GetString("reason")
		featuresJSON, _ := cmd.Flags().GetString("features")

		req := map[string]any{
			"user_id":         user,
			"selected_intent": args[0],
		}
		if suggested != "" {
			req["suggested_intent"] = suggested
			req["suggested_confidence"] = confidence
		}
		if reason != "" {
			req["override_reason"] = reason
		}
		if featuresJSON != "" {
			var features map[string]any
			if err := json.Unmarshal([]byte(featuresJSON), &features); err != nil {
				return fmt.Errorf("invalid --features JSON: %w", err)
			}
			req["features"] = features
		}

		resp, err := client.post("/v1/feedback", req)
		if err != nil {
			return err
		}

		var result struct {
			FeedbackID     string `json:"feedback_id"`
			WasOverride    bool   `json:"was_override"`
			LearningQueued bool   `json:"learning_queued"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.WasOverride {
			printSuccess("Recorded override (%s instead of %s)", args[0], suggested)
		} else {
			printSuccess("Recorded %s", args[0])
		}
		if !result.LearningQueued {
			printWarning("learning job was not queued; weights will catch up later")
		}
		return nil
	},
}

func init() {
	feedbackCmd.Flags().String("user", "", "user recording feedback (defaults to configured user)")
	feedbackCmd.Flags().String("suggested", "", "the intent that was suggested, if any")
	feedbackCmd.Flags().Float64("confidence", 0, "confidence of the original suggestion")
	feedbackCmd.Flags().String("reason", "", "why the suggestion was overridden")
	feedbackCmd.Flags().String("features", "", "features JSON from `attuned suggest --json`, so learning sees the suggestion-time context")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learning progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			user = client.user
		}

		resp, err := client.get("/v1/stats/" + url.PathEscape(user))
		if err != nil {
			return err
		}

		var stats struct {
			FeedbackCount   int     `json:"feedback_count"`
			OverrideCount   int     `json:"override_count"`
			OverrideRate    float64 `json:"override_rate"`
			ConfidenceLevel float64 `json:"confidence_level"`
			ActivePatterns  []struct {
				Label      string  `json:"label"`
				Intent     string  `json:"intent"`
				Confidence float64 `json:"confidence"`
			} `json:"active_patterns"`
			RecentSelections map[string]int `json:"recent_selections"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Feedback events", "%d", stats.FeedbackCount)
		printStatus("Overrides", "%d (%.0f%%)", stats.OverrideCount, stats.OverrideRate*100)
		printStatus("Confidence", "%.2f", stats.ConfidenceLevel)

		if len(stats.ActivePatterns) > 0 {
			printStep("Discovered patterns")
			for _, p := range stats.ActivePatterns {
				printStatus(p.Label, "%s (%.0f%%)", p.Intent, p.Confidence*100)
			}
		}

		if len(stats.RecentSelections) > 0 {
			var names []string
			for name := range stats.RecentSelections {
				names = append(names, name)
			}
			sort.Strings(names)
			var parts []string
			for _, name := range names {
				parts = append(parts, fmt.Sprintf("%s ×%d", name, stats.RecentSelections[name]))
			}
			printStatus("Recent choices", "%s", strings.Join(parts, ", "))
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().String("user", "", "user to report on (defaults to configured user)")
}

// --- patterns ---

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List discovered context patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			user = client.user
		}
		minConf, _ := cmd.Flags().GetFloat64("min-confidence")
		limit, _ := cmd.Flags().GetInt("limit")

		path := fmt.Sprintf("/v1/patterns/%s?min_confidence=%g&limit=%d",
			url.PathEscape(user), minConf, limit)
		resp, err := client.get(path)
		if err != nil {
			return err
		}

		var patterns []struct {
			Label      string  `json:"label"`
			Intent     string  `json:"intent"`
			Confidence float64 `json:"confidence"`
			MatchCount int     `json:"match_count"`
		}
		if err := decodeJSON(resp, &patterns); err != nil {
			return err
		}

		if len(patterns) == 0 {
			printWarning("no patterns discovered yet; keep recording feedback")
			return nil
		}
		for _, p := range patterns {
			printStatus(p.Label, "%s (%.0f%% over %d observations)",
				p.Intent, p.Confidence*100, p.MatchCount)
		}
		return nil
	},
}

func init() {
	patternsCmd.Flags().String("user", "", "user to list patterns for (defaults to configured user)")
	patternsCmd.Flags().Float64("min-confidence", 0, "only show patterns at or above this confidence")
	patternsCmd.Flags().Int("limit", 50, "maximum number of patterns to show")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage attuned configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, info := range config.ShowAll(cfg) {
			printStatus(info.Key, "%s (env %s)", info.Value, info.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			printStep("valid keys: %s", strings.Join(config.ValidKeys(), ", "))
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
