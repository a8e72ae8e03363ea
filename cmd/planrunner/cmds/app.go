// Package cmds implements the planrunner CLI's subcommand tree. Structured
// one file per subcommand, grounded on the pack's piwi3910-openfroyo
// cmd/froyo/commands layout (newXCommand() factories plus a root Execute
// entrypoint), wired with the teacher's own ambient stack rather than
// openfroyo's (slog+tint via common/logger, not zerolog).
package cmds

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lyzr/planrunner/common/blocks/core"
	"github.com/lyzr/planrunner/common/blocks/ui"
	"github.com/lyzr/planrunner/common/cancelbus"
	"github.com/lyzr/planrunner/common/configstore"
	"github.com/lyzr/planrunner/common/evidence"
	"github.com/lyzr/planrunner/common/logger"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/registry"
	"github.com/lyzr/planrunner/common/runner"
)

// app bundles the components every subcommand needs. It is the CLI's own
// thin substitute for the teacher's common/bootstrap.Setup: that helper
// also wires a Postgres DB, a Kafka/in-memory Queue and OTel Telemetry,
// none of which this engine has a use for (spec.md's Non-goals exclude a
// persistence backend and a distributed broker), so app builds only the
// subset this CLI actually exercises instead of pulling bootstrap in
// wholesale and leaving DB/Queue fields unset and unused (see DESIGN.md).
type app struct {
	Registry *registry.Registry
	Config   *configstore.Store
	Evidence *evidence.Logger
	State    *runner.StateStore
	Runner   *runner.PlanRunner
	Log      *logger.Logger

	plansByID map[string]*planmodel.Plan
}

// appOptions collects the persistent flags every subcommand shares.
type appOptions struct {
	blocksDir   string
	plansDir    string
	runsDir     string
	configPaths []string
	logLevel    string
	logFormat   string
}

func newApp(opts appOptions) (*app, error) {
	log := logger.New(opts.logLevel, opts.logFormat)

	reg := registry.New()
	if err := core.Register(reg); err != nil {
		return nil, fmt.Errorf("registering builtin blocks: %w", err)
	}
	if err := ui.Register(reg); err != nil {
		return nil, fmt.Errorf("registering builtin ui blocks: %w", err)
	}
	if opts.blocksDir != "" {
		if err := reg.LoadSpecs(opts.blocksDir); err != nil {
			return nil, fmt.Errorf("loading block specs from %s: %w", opts.blocksDir, err)
		}
	}

	var cfg *configstore.Store
	if len(opts.configPaths) > 0 {
		cfg = configstore.New(opts.configPaths...)
	}

	runsDir := opts.runsDir
	if runsDir == "" {
		runsDir = "runs"
	}
	evid := evidence.New(runsDir)
	state := runner.NewStateStore(runsDir)

	a := &app{
		Registry: reg,
		Config:   cfg,
		Evidence: evid,
		State:    state,
		Log:      log,
	}

	if opts.plansDir != "" {
		plans, err := loadPlanDir(opts.plansDir)
		if err != nil {
			return nil, fmt.Errorf("loading plans from %s: %w", opts.plansDir, err)
		}
		a.plansByID = plans
	} else {
		a.plansByID = map[string]*planmodel.Plan{}
	}

	rn := runner.New(reg, state)
	rn.Config = cfg
	rn.Evidence = evid
	rn.Cancel = cancelbus.New(nil)
	rn.Plans = a.resolvePlan
	a.Runner = rn

	return a, nil
}

// resolvePlan is the subflow/resume Plan lookup wired into Runner.Plans: it
// resolves by id against every plan discovered under --plans-dir.
func (a *app) resolvePlan(planID string) (*planmodel.Plan, bool) {
	p, ok := a.plansByID[planID]
	return p, ok
}

// loadPlanFile reads and decodes a single Plan document, also indexing it
// by id so subflow/resume lookups can find it even when it lives outside
// --plans-dir.
func (a *app) loadPlanFile(path string) (*planmodel.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file %s: %w", path, err)
	}
	plan, err := planmodel.LoadPlan(data)
	if err != nil {
		return nil, fmt.Errorf("parsing plan file %s: %w", path, err)
	}
	if a.plansByID == nil {
		a.plansByID = map[string]*planmodel.Plan{}
	}
	a.plansByID[plan.ID] = plan
	return plan, nil
}

// loadPlanDir scans dir for *.plan.yaml documents and indexes them by id,
// the same recursive-walk idiom common/registry.Registry.LoadSpecs uses for
// Block Specs.
func loadPlanDir(dir string) (map[string]*planmodel.Plan, error) {
	plans := make(map[string]*planmodel.Plan)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".plan.yaml") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		plan, err := planmodel.LoadPlan(data)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		plans[plan.ID] = plan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plans, nil
}
