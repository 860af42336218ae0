package daemon

import (
	"path/filepath"
	"testing"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"chatcore/internal/bus"
	"chatcore/internal/message"
	"chatcore/internal/state"
	"chatcore/internal/store"
)

// TestFxModuleWiring verifies the fx dependency graph resolves without
// errors. Validation only checks the graph; no provider runs, so no
// config file or network is needed.
func TestFxModuleWiring(t *testing.T) {
	p := Params{ProfileName: "fxtest", ConfigPath: filepath.Join(t.TempDir(), "config.toml")}
	if err := fx.ValidateApp(Module(p)); err != nil {
		t.Fatalf("fx graph invalid: %v", err)
	}
}

func TestBootstrapState(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	m := &message.Message{
		ClientID: "temp_1", ChatID: "c1", SenderID: "u1",
		Type: message.TypeText, Content: "hi", Status: message.StatusSent,
		CreatedAt: 1000, FromMe: true,
	}
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}
	lm := message.LastMessage{ID: "temp_1", Preview: "hi", SenderID: "u1", CreatedAt: 1000}
	if err := db.ApplyLastMessage("c1", lm, false); err != nil {
		t.Fatal(err)
	}

	logger, _ := zap.NewDevelopment()
	st := state.NewStore(bus.New(), logger)
	if err := bootstrapState(db, st, logger); err != nil {
		t.Fatal(err)
	}

	if got := st.Chats(); len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("chats = %+v", got)
	}
	if got := st.Messages("c1"); len(got) != 1 || got[0].ClientID != "temp_1" {
		t.Errorf("messages = %+v", got)
	}
}
