package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"growth-assessor/internal/assessment"
	"growth-assessor/internal/child"
	"growth-assessor/internal/llm"
	"growth-assessor/internal/metrics"
	"growth-assessor/internal/nutrition"
	"growth-assessor/internal/workflow"
)

const maxPhotoBytes = 10 << 20

var errNoData = errors.New("no child data yet: run `growth-cli intake` first")

func (c *cli) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

func (c *cli) intakeCmd() *cobra.Command {
	var (
		in        child.Input
		age       string
		height    string
		weight    string
		pct       string
		photoPath string
	)
	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Record a child's measurements",
		Long: `Record a child's measurements, replacing any earlier record in the session.

Height and weight accept bare numbers or units ("80", "80 cm"). Without
--percentile one is assigned.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			in.Age = child.Str(age)
			in.Height = looseFlag(height)
			in.Weight = looseFlag(weight)
			if pct != "" {
				in.Percentile = child.Str(pct)
			}
			if photoPath != "" {
				photo, err := readPhoto(photoPath)
				if err != nil {
					return err
				}
				in.Photo = photo
			}

			rec, defaulted, err := c.app.Workflow.Session(c.session).Submit(ctx, in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printProfile(out, rec)
			if len(defaulted) > 0 {
				fmt.Fprintf(out, "Could not read: %s\n", strings.Join(defaulted, ", "))
			}
			if !rec.HasMeasurements() {
				fmt.Fprintln(out, "Height and weight are needed before an assessment.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "Child's name")
	cmd.Flags().StringVar(&age, "age", "", `Age, e.g. "2 years, 3 months"`)
	cmd.Flags().StringVar(&in.Gender, "gender", "", "M or F")
	cmd.Flags().StringVar(&height, "height", "", "Height in cm")
	cmd.Flags().StringVar(&weight, "weight", "", "Weight in kg")
	cmd.Flags().StringVar(&pct, "percentile", "", `Height-for-age percentile, e.g. "40th"`)
	cmd.Flags().StringVar(&photoPath, "photo", "", "Path to a photo of the child")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (c *cli) assessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assess",
		Short: "Classify the recorded child's growth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			rec, res, err := c.app.Workflow.Session(c.session).Assess(ctx)
			switch {
			case errors.Is(err, workflow.ErrNoData):
				return errNoData
			case errors.Is(err, assessment.ErrUnusableRecord):
				return fmt.Errorf("%w: run `growth-cli intake` again with height and weight", err)
			case err != nil:
				return err
			}

			out := cmd.OutOrStdout()
			printProfile(out, rec)
			fmt.Fprintf(out, "\nResult: %s\n%s\n", res.Result.Classification, res.Result.Explanation)
			switch {
			case res.CacheHit():
				fmt.Fprintln(out, "(stored result)")
			case res.Fallback():
				fmt.Fprintln(out, "(basic assessment from measurements only)")
			}
			return nil
		},
	}
}

func (c *cli) nutritionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "nutrition",
		Short: "Build a nutrition plan for the recorded child",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			rec, res, err := c.app.Workflow.Session(c.session).Nutrition(ctx)
			if errors.Is(err, workflow.ErrNoData) {
				return errNoData
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Plan)
			}
			printPlan(out, rec, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where the session is in the flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			s := c.app.Workflow.Session(c.session)
			state, err := s.State(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State: %s\n", state)
			if state == workflow.NoData {
				return nil
			}
			rec, err := s.Record(ctx)
			if err != nil {
				return err
			}
			printProfile(out, rec)
			return nil
		},
	}
}

func (c *cli) metricsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show AI usage and runtime health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			usage, err := c.app.Metrics.GetDailyUsage(ctx, days)
			if err != nil {
				return err
			}
			health := metrics.GetSysHealth(c.app.Config.DataDir())
			fmt.Fprint(cmd.OutOrStdout(), metrics.Summary(usage, health))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Days of usage to show")
	return cmd
}

func (c *cli) metricsCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "metrics-cleanup",
		Short: "Delete old execution metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			affected, err := c.app.Metrics.Cleanup(ctx, days)
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d old metric records.\n", affected)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Keep records for the last N days")
	return cmd
}

func looseFlag(s string) child.Loose {
	var l child.Loose
	if err := json.Unmarshal([]byte(s), &l); err == nil && l.IsNumber {
		return l
	}
	return child.Str(s)
}

func readPhoto(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open photo: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxPhotoBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read photo: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return "", fmt.Errorf("photo %s is larger than %d bytes", path, maxPhotoBytes)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	return llm.Image{MIMEType: mime, Data: data}.DataURI(), nil
}

func printProfile(w io.Writer, rec child.Record) {
	p := rec.Profile()
	fmt.Fprintf(w, "%s: %s, %s\n", p.Name, p.Age, p.Gender)
	fmt.Fprintf(w, "  Height %s, weight %s, BMI %s, percentile %s\n", p.Height, p.Weight, p.BMI, p.Percentile)
	if rec.HasPhoto() {
		fmt.Fprintln(w, "  Photo attached")
	}
	if rec.AssessmentDate != "" {
		fmt.Fprintf(w, "  Recorded %s\n", rec.AssessmentDate)
	}
}

func printPlan(w io.Writer, rec child.Record, res nutrition.Outcome) {
	p := res.Plan
	m := p.Macronutrients
	fmt.Fprintf(w, "Nutrition plan for %s\n", rec.Name)
	fmt.Fprintf(w, "  Daily calories: %d kcal\n", p.DailyCalories)
	fmt.Fprintf(w, "  Protein %d%% (%dg), carbs %d%% (%dg), fats %d%% (%dg)\n",
		m.Protein.Percentage, m.Protein.Grams, m.Carbs.Percentage, m.Carbs.Grams, m.Fats.Percentage, m.Fats.Grams)

	if len(p.KeyNutrients) > 0 {
		fmt.Fprintln(w, "\nKey nutrients:")
		for _, n := range p.KeyNutrients {
			fmt.Fprintf(w, "  - %s (%s): %s\n", n.Name, n.Amount, strings.Join(n.Foods, ", "))
		}
	}
	if len(p.MealPlan) > 0 {
		fmt.Fprintln(w, "\nMeals:")
		for _, meal := range p.MealPlan {
			fmt.Fprintf(w, "  - %s: %s\n", meal.Meal, strings.Join(meal.Options, "; "))
		}
	}
	if len(p.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, r := range p.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}

	gt := p.GrowthTrajectory
	if gt.CurrentStatus != "" || gt.Projection != "" {
		fmt.Fprintf(w, "\nGrowth: %s %s\n", gt.CurrentStatus, gt.Projection)
	}
	if size := gt.EstimatedAdultSize; size.Height != "" {
		fmt.Fprintf(w, "Estimated adult size: %s, %s\n", size.Height, size.Weight)
	}
	if res.Fallback() {
		fmt.Fprintln(w, "\n(standard plan from reference values)")
	}
}
