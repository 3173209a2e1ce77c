package commander

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/obs-commander/command"
	"github.com/onnwee/obs-commander/config"
	"github.com/onnwee/obs-commander/obs"
	"github.com/onnwee/obs-commander/supervisor"
	"github.com/onnwee/obs-commander/testutil"
)

func testConfig(t *testing.T, obsURL string) *config.Config {
	t.Helper()
	return &config.Config{
		CommandPrefix:        "!",
		TwitchChannel:        "streamer",
		TwitchBotUsername:    "bot",
		TwitchOAuthToken:     "oauth:tok",
		ChatRateLimit:        20,
		ChatRateWindow:       30 * time.Second,
		OBSAddress:           obsURL,
		OBSRequestTimeout:    2 * time.Second,
		ScreenshotSources:    []string{"Camera"},
		LiveScene:            "Live",
		PreviewSource:        "Screenshot Preview",
		PreviewDir:           t.TempDir(),
		PreviewShowDelay:     time.Second,
		PreviewHideAfter:     20 * time.Second,
		ReconnectMaxAttempts: 1,
	}
}

func TestNewRegistersBuiltinsAndShortcuts(t *testing.T) {
	c, err := New(testConfig(t, "127.0.0.1:1"), []command.ShortcutDef{
		{Name: "Cam", Token: "cam", Base: "Screenshot", Args: []string{"cam"}},
		{Name: "Broken", Token: "broken", Base: "DoesNotExist"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, tok := range []string{"sc", "p", "setfilter", "cam"} {
		if _, ok := c.Registry().Lookup(tok); !ok {
			t.Errorf("token %q not registered", tok)
		}
	}
	if _, ok := c.Registry().Lookup("broken"); ok {
		t.Error("shortcut with unknown base should be dropped")
	}
}

func TestNewRequiresChatCredentials(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	cfg.TwitchOAuthToken = ""
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error without chat credentials")
	}
}

func TestControllerConnectResolvesCapabilities(t *testing.T) {
	fake := testutil.NewFakeOBS(t, "")
	fake.Handle("GetSceneItemId", func(d map[string]any) testutil.OBSResponse {
		if d["sceneName"] != "Live" || d["sourceName"] != "Screenshot Preview" {
			return testutil.OBSResponse{Code: 600, Comment: "No scene items were found"}
		}
		return testutil.OBSResponse{Data: map[string]any{"sceneItemId": 4}}
	})

	c, err := New(testConfig(t, fake.URL()), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Supervisor().Shutdown() })

	if err := c.Supervisor().Connect(context.Background(), obs.LinkName); err != nil {
		t.Fatalf("connect obs: %v", err)
	}
	if c.Supervisor().State(obs.LinkName) != supervisor.Connected {
		t.Fatalf("state = %v", c.Supervisor().State(obs.LinkName))
	}
	if got := c.obs.ImageFormat(); got != "jpg" {
		t.Errorf("image format = %q, want jpg", got)
	}
	if n := len(fake.RequestsOf("GetSceneItemId")); n != 1 {
		t.Errorf("GetSceneItemId requests = %d, want 1", n)
	}

	// a reconnect re-resolves the scene item
	fake.DropConnections()
	deadline := time.Now().Add(2 * time.Second)
	for len(fake.RequestsOf("GetSceneItemId")) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(fake.RequestsOf("GetSceneItemId")); n != 2 {
		t.Fatalf("GetSceneItemId after reconnect = %d, want 2", n)
	}
}

func TestControllerHookToleratesMissingPreview(t *testing.T) {
	fake := testutil.NewFakeOBS(t, "")
	fake.Handle("GetSceneItemId", func(map[string]any) testutil.OBSResponse {
		return testutil.OBSResponse{Code: 600, Comment: "No scene items were found"}
	})
	c, err := New(testConfig(t, fake.URL()), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Supervisor().Shutdown() })

	if err := c.Supervisor().Connect(context.Background(), obs.LinkName); err != nil {
		t.Fatalf("missing preview source must not fail the link: %v", err)
	}
}
