package game

import (
	"testing"

	"github.com/soramame-games/stationtalk/internal/config"
)

func testNPCs() []config.NPCConfig {
	return []config.NPCConfig{
		{ID: "guard", Name: "Station Guard", Voice: "female1", Persona: "Strict.", Greeting: "Halt!", FallbackReply: "Hm?"},
		{ID: "vendor", Voice: "female2"},
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(testNPCs())

	p, ok := r.Lookup("guard")
	if !ok || p.Name != "Station Guard" || p.Voice != "female1" || p.Greeting != "Halt!" {
		t.Errorf("guard profile = %+v", p)
	}
	// A nameless NPC falls back to its ID for display.
	p, ok = r.Lookup("vendor")
	if !ok || p.Name != "vendor" {
		t.Errorf("vendor profile = %+v", p)
	}
	if _, ok := r.Lookup("ghost"); ok {
		t.Error("unknown id resolved")
	}
}

func TestRegistryAllKeepsOrder(t *testing.T) {
	r := NewRegistry(testNPCs())
	all := r.All()
	if len(all) != 2 || all[0].ID != "guard" || all[1].ID != "vendor" {
		t.Errorf("All() = %+v", all)
	}
}

func TestRegistryPersonas(t *testing.T) {
	r := NewRegistry(testNPCs())
	personas := r.Personas()
	if len(personas) != 1 || personas["guard"] != "Strict." {
		t.Errorf("Personas() = %v", personas)
	}
}

func TestRegistryApplyHotReload(t *testing.T) {
	old := testNPCs()
	r := NewRegistry(old)

	updated := testNPCs()
	updated[0].Voice = "female3"
	updated[0].Persona = "Friendly."
	updated[1].FallbackReply = "Sold out."
	oldCfg := &config.Config{NPCs: old}
	newCfg := &config.Config{NPCs: updated}

	r.Apply(updated, config.Diff(oldCfg, newCfg))

	p, _ := r.Lookup("guard")
	if p.Voice != "female3" {
		t.Errorf("guard voice = %q after reload", p.Voice)
	}
	if got := r.Personas()["guard"]; got != "Friendly." {
		t.Errorf("guard persona = %q after reload", got)
	}
	p, _ = r.Lookup("vendor")
	if p.FallbackReply != "Sold out." {
		t.Errorf("vendor fallback = %q after reload", p.FallbackReply)
	}
}

func TestRegistryApplyIgnoresAddRemove(t *testing.T) {
	old := testNPCs()
	r := NewRegistry(old)

	updated := []config.NPCConfig{old[0], {ID: "conductor"}}
	r.Apply(updated, config.Diff(&config.Config{NPCs: old}, &config.Config{NPCs: updated}))

	if _, ok := r.Lookup("conductor"); ok {
		t.Error("hot reload added an NPC")
	}
	if _, ok := r.Lookup("vendor"); !ok {
		t.Error("hot reload removed an NPC")
	}
}
