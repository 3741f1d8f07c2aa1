package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haldenlabs/mandate/pkg/audit"
	"github.com/haldenlabs/mandate/pkg/capability"
	"github.com/haldenlabs/mandate/pkg/config"
	"github.com/haldenlabs/mandate/pkg/contracts"
	"github.com/haldenlabs/mandate/pkg/decision"
	"github.com/haldenlabs/mandate/pkg/observability"
	"github.com/haldenlabs/mandate/pkg/policy"
	"github.com/haldenlabs/mandate/pkg/risk"
	"github.com/haldenlabs/mandate/pkg/skills"
	"github.com/haldenlabs/mandate/pkg/store"
	"github.com/haldenlabs/mandate/pkg/trust"
)

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		return store.OpenPostgres(cfg.DatabaseURL)
	}
	return store.OpenSQLite(cfg.DatabasePath)
}

func loadProfile(path string) (*config.GovernanceProfile, error) {
	if path == "" {
		return config.DefaultGovernanceProfile(), nil
	}
	return config.LoadGovernanceProfile(path)
}

func guardRules(profile *config.GovernanceProfile) []policy.Rule {
	rules := make([]policy.Rule, 0, len(profile.GuardRules))
	for _, r := range profile.GuardRules {
		rules = append(rules, policy.Rule{
			Name:       r.Name,
			Expression: r.Expression,
			Level:      contracts.ApprovalLevel(r.Level),
		})
	}
	return rules
}

// newTelemetry builds the OTel provider from env config. With TELEMETRY
// unset the provider is a no-op and exports nothing.
func newTelemetry(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	oc := observability.DefaultConfig()
	oc.Enabled = cfg.Telemetry
	if cfg.OTLPEndpoint != "" {
		oc.OTLPEndpoint = cfg.OTLPEndpoint
	}
	return observability.New(ctx, oc)
}

// buildHook wires the full decision seam from configuration.
func buildHook(cfg *config.Config, profile *config.GovernanceProfile, st store.Store, obs *observability.Provider) (*decision.Hook, error) {
	scorer := risk.NewScorer().WithDefaults(kindDefaults(profile))
	trustSvc := trust.NewService(st, trust.Options{
		Alpha:             profile.Trust.Alpha,
		OverrideAlpha:     profile.Trust.OverrideAlpha,
		UpgradeThreshold:  profile.Trust.UpgradeThreshold,
		UpgradeFailureCut: profile.Trust.UpgradeFailureCut,
	})

	issuer := capability.NewIssuer()
	mintPolicy := capability.MintPolicy{PerMinute: profile.Mint.PerMinute, Burst: profile.Mint.Burst}
	if cfg.RedisAddr != "" {
		issuer.WithLimiter(capability.NewRedisMintLimiter(cfg.RedisAddr, "", 0, mintPolicy))
	} else {
		issuer.WithLimiter(capability.NewMemoryMintLimiter(mintPolicy))
	}

	hook := decision.NewHook(scorer, trustSvc, issuer).
		WithAudit(audit.NewLogger()).
		WithTokenTTL(profile.Mint.DefaultTTLSeconds)
	if obs != nil {
		hook.WithObservability(obs)
	}

	if rules := guardRules(profile); len(rules) > 0 {
		guard, err := policy.NewGuard(rules)
		if err != nil {
			return nil, err
		}
		hook.WithGuard(guard)
	}
	if len(profile.ParameterSchemas) > 0 {
		if _, err := hook.WithParameterSchemas(profile.ParameterSchemas); err != nil {
			return nil, err
		}
	}
	return hook, nil
}

func kindDefaults(profile *config.GovernanceProfile) map[contracts.ActionKind]contracts.TaskProfile {
	return profile.KindDefaultProfiles()
}

func runDecideCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profilePath := fs.String("profile", os.Getenv("MANDATE_PROFILE"), "governance profile YAML")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	profile, err := loadProfile(*profilePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var proposal contracts.Proposal
	if err := json.NewDecoder(os.Stdin).Decode(&proposal); err != nil {
		fmt.Fprintf(stderr, "Error: parse proposal: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	obs, err := newTelemetry(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	hook, err := buildHook(cfg, profile, st, obs)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	dec, err := hook.Decide(ctx, proposal)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dec); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runDoctorCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	failed := false

	check := func(name string, err error) {
		if err != nil {
			fmt.Fprintf(stdout, "  [FAIL] %s: %v\n", name, err)
			failed = true
			return
		}
		fmt.Fprintf(stdout, "  [ OK ] %s\n", name)
	}

	fmt.Fprintf(stdout, "%sMandate doctor%s\n", ColorBold, ColorReset)

	_, err := openStore(cfg)
	check("database", err)

	_, err = loadProfile(cfg.ProfilePath)
	check("governance profile", err)

	if cfg.TokenSecret == "" {
		fmt.Fprintln(stdout, "  [WARN] MANDATE_TOKEN_SECRET unset: wire tokens disabled")
	} else {
		_, err = capability.NewCodec([]byte(cfg.TokenSecret), "")
		check("token codec", err)
	}

	if failed {
		return 1
	}
	return 0
}

func runProfileCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "governance profile YAML")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(stderr, "Usage: mandate profile --file <profile.yaml>")
		return 2
	}

	profile, err := config.LoadGovernanceProfile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Profile %q is valid\n", profile.Name)
	fmt.Fprintf(stdout, "  undo window: %ds\n", profile.UndoWindowSeconds)
	fmt.Fprintf(stdout, "  trust alpha: %.2f (override %.2f)\n", profile.Trust.Alpha, profile.Trust.OverrideAlpha)
	fmt.Fprintf(stdout, "  mint: %d/min burst %d ttl %ds\n", profile.Mint.PerMinute, profile.Mint.Burst, profile.Mint.DefaultTTLSeconds)
	fmt.Fprintf(stdout, "  kind defaults: %d, guard rules: %d, parameter schemas: %d\n",
		len(profile.KindDefaults), len(profile.GuardRules), len(profile.ParameterSchemas))
	return 0
}

func runHistoryCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	user := fs.String("user", "", "user id")
	category := fs.String("category", "", "action kind")
	limit := fs.Int("limit", 50, "max entries")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *user == "" || *category == "" {
		fmt.Fprintln(stderr, "Usage: mandate history --user <id> --category <kind> [--limit n]")
		return 2
	}

	st, err := openStore(config.Load())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	entries, err := st.ListTrustChanges(ctx, store.TrustKey{
		UserID:   *user,
		Category: contracts.ActionKind(*category),
	}, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := store.VerifyChain(entries); err != nil {
		fmt.Fprintf(stderr, "Error: history chain verification failed: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "%4d  %-8s  %.3f -> %.3f  %s\n",
			e.Sequence, e.Record.Outcome, e.Record.OldScore, e.Record.NewScore,
			e.Record.At.Format(time.RFC3339))
	}
	fmt.Fprintf(stdout, "%d entries, chain verified\n", len(entries))
	return 0
}

// skillsManifest is the YAML shape accepted by the skills command.
type skillsManifest struct {
	Skills []skills.Skill `yaml:"skills"`
}

func runSkillsCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("skills", flag.ContinueOnError)
	fs.SetOutput(stderr)
	manifest := fs.String("manifest", "", "skills manifest YAML")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *manifest == "" {
		fmt.Fprintln(stderr, "Usage: mandate skills --manifest <skills.yaml>")
		return 2
	}

	data, err := os.ReadFile(*manifest)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var m skillsManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		fmt.Fprintf(stderr, "Error: parse manifest: %v\n", err)
		return 1
	}

	reg := skills.NewRegistry()
	for _, s := range m.Skills {
		if err := reg.Register(s); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	for _, s := range reg.List() {
		fmt.Fprintf(stdout, "  %-24s %-10s %s\n", s.ID, s.Version, s.RiskLevel)
	}
	fmt.Fprintf(stdout, "%d skills registered\n", len(m.Skills))
	return 0
}
