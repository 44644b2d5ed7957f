package idem

import (
	"testing"

	"quantflow/internal/model"
)

func basePlan() model.Plan {
	return model.Plan{
		Symbol:    "RELIANCE",
		Side:      model.Long,
		Entry:     2850.5,
		Stop:      2820,
		TP1:       2910,
		TP2:       2950,
		Quantity:  10,
		Strategy:  "ema-momentum",
		ConfigSHA: "abc123def456",
		OrderType: model.Limit,
	}
}

func TestPlanClientIdDeterministic(t *testing.T) {
	p := basePlan()
	id1 := PlanClientId(p)
	id2 := PlanClientId(p)
	if id1 != id2 {
		t.Fatalf("same plan must yield same id, got %s and %s", id1, id2)
	}
	if id1 == "" {
		t.Fatal("empty id")
	}
}

func TestPlanClientIdChangesWithEconomicFields(t *testing.T) {
	base := PlanClientId(basePlan())

	mutations := map[string]func(*model.Plan){
		"symbol":    func(p *model.Plan) { p.Symbol = "TCS" },
		"side":      func(p *model.Plan) { p.Side = model.Short },
		"entry":     func(p *model.Plan) { p.Entry = 2851 },
		"stop":      func(p *model.Plan) { p.Stop = 2819 },
		"tp1":       func(p *model.Plan) { p.TP1 = 2911 },
		"tp2":       func(p *model.Plan) { p.TP2 = 0 },
		"quantity":  func(p *model.Plan) { p.Quantity = 11 },
		"strategy":  func(p *model.Plan) { p.Strategy = "orb" },
		"configSHA": func(p *model.Plan) { p.ConfigSHA = "ffffffffffff" },
	}

	for name, mutate := range mutations {
		p := basePlan()
		mutate(&p)
		if got := PlanClientId(p); got == base {
			t.Errorf("changing %s did not change the plan id", name)
		}
	}
}

func TestOrderClientIdPerRole(t *testing.T) {
	planId := PlanClientId(basePlan())
	groupId := "g-0001"

	entry := OrderClientId(planId, model.RoleEntry, groupId)
	sl := OrderClientId(planId, model.RoleSL, groupId)
	tp1 := OrderClientId(planId, model.RoleTP1, groupId)
	tp2 := OrderClientId(planId, model.RoleTP2, groupId)

	seen := map[string]bool{}
	for _, id := range []string{entry, sl, tp1, tp2} {
		if seen[id] {
			t.Fatalf("duplicate order client id within group: %s", id)
		}
		seen[id] = true
	}

	// 可重复推导：模拟重启后重新派生
	if again := OrderClientId(planId, model.RoleSL, groupId); again != sl {
		t.Errorf("sl id not reproducible: %s vs %s", again, sl)
	}

	// 不同组里同角色的id不同
	other := OrderClientId(planId, model.RoleSL, "g-0002")
	if other == sl {
		t.Error("sl id must differ across groups")
	}
}
