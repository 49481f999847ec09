package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; endpoint or audio
// changes still require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel
	NPCsChanged     bool      // true if any NPC entry changed
	NPCChanges      []NPCDiff // per-NPC diffs
}

// NPCDiff describes what changed for a single NPC between two configs.
type NPCDiff struct {
	ID              string
	PersonaChanged  bool
	VoiceChanged    bool
	GreetingChanged bool
	FallbackChanged bool
	Added           bool
	Removed         bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Logging.Level != new.Logging.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Logging.Level
	}

	oldNPCs := make(map[string]*NPCConfig, len(old.NPCs))
	for i := range old.NPCs {
		oldNPCs[old.NPCs[i].ID] = &old.NPCs[i]
	}
	newNPCs := make(map[string]*NPCConfig, len(new.NPCs))
	for i := range new.NPCs {
		newNPCs[new.NPCs[i].ID] = &new.NPCs[i]
	}

	for id, n := range newNPCs {
		o, existed := oldNPCs[id]
		if !existed {
			d.NPCChanges = append(d.NPCChanges, NPCDiff{ID: id, Added: true})
			continue
		}
		nd := NPCDiff{
			ID:              id,
			PersonaChanged:  o.Persona != n.Persona,
			VoiceChanged:    o.Voice != n.Voice,
			GreetingChanged: o.Greeting != n.Greeting,
			FallbackChanged: o.FallbackReply != n.FallbackReply,
		}
		if nd.PersonaChanged || nd.VoiceChanged || nd.GreetingChanged || nd.FallbackChanged {
			d.NPCChanges = append(d.NPCChanges, nd)
		}
	}
	for id := range oldNPCs {
		if _, kept := newNPCs[id]; !kept {
			d.NPCChanges = append(d.NPCChanges, NPCDiff{ID: id, Removed: true})
		}
	}
	d.NPCsChanged = len(d.NPCChanges) > 0

	return d
}
