package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soramame-games/stationtalk/pkg/service/npc"
	npcmock "github.com/soramame-games/stationtalk/pkg/service/npc/mock"
)

func TestNPCFallbackPrefersPrimary(t *testing.T) {
	primary := &npcmock.Client{Reply: npc.Reply{Text: "from station"}}
	backup := &npcmock.Client{Reply: npc.Reply{Text: "from model"}}
	f := NewNPCFallback(primary, "station", BreakerConfig{TripAfter: 2, Cooldown: time.Hour})
	f.AddFallback("openai", backup)

	reply, err := f.Chat(context.Background(), npc.Request{NPCID: "hachiko", Message: "hello"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply.Text != "from station" {
		t.Errorf("Text = %q", reply.Text)
	}
	if len(backup.Calls()) != 0 {
		t.Error("fallback was consulted while primary was healthy")
	}
}

func TestNPCFallbackFailsOver(t *testing.T) {
	primary := &npcmock.Client{ChatErr: errors.New("station down")}
	backup := &npcmock.Client{Reply: npc.Reply{Text: "from model"}}
	f := NewNPCFallback(primary, "station", BreakerConfig{TripAfter: 2, Cooldown: time.Hour})
	f.AddFallback("openai", backup)

	reply, err := f.Chat(context.Background(), npc.Request{NPCID: "hachiko", Message: "hello"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply.Text != "from model" {
		t.Errorf("Text = %q", reply.Text)
	}
}

func TestNPCFallbackAllDown(t *testing.T) {
	primary := &npcmock.Client{ChatErr: errors.New("station down")}
	backup := &npcmock.Client{ChatErr: errors.New("model down")}
	f := NewNPCFallback(primary, "station", BreakerConfig{TripAfter: 2, Cooldown: time.Hour})
	f.AddFallback("openai", backup)

	if _, err := f.Chat(context.Background(), npc.Request{NPCID: "hachiko"}); !errors.Is(err, ErrAllBackendsFailed) {
		t.Errorf("error = %v, want ErrAllBackendsFailed", err)
	}
}
