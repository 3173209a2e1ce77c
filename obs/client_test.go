package obs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/obs-commander/testutil"
)

func connect(t *testing.T, fake *testutil.FakeOBS, password string) *Client {
	t.Helper()
	c := New(Config{Address: fake.URL(), Password: password, RequestTimeout: 2 * time.Second})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestConnectWithPassword(t *testing.T) {
	fake := testutil.NewFakeOBS(t, "hunter2")
	c := connect(t, fake, "hunter2")
	if !c.Connected() {
		t.Fatal("expected connected")
	}
	if fake.Accepted() != 1 {
		t.Fatalf("accepted sessions = %d", fake.Accepted())
	}
}

func TestConnectWrongPassword(t *testing.T) {
	fake := testutil.NewFakeOBS(t, "hunter2")
	c := New(Config{Address: fake.URL(), Password: "nope", RequestTimeout: time.Second})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected authentication failure")
	}
	if c.Connected() {
		t.Fatal("client reports connected after failed handshake")
	}
}

func TestConnectMissingPassword(t *testing.T) {
	fake := testutil.NewFakeOBS(t, "hunter2")
	c := New(Config{Address: fake.URL(), RequestTimeout: time.Second})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected error without password")
	}
}

func TestGetVersionNegotiatesFormat(t *testing.T) {
	fake := testutil.NewFakeOBS(t, "")
	c := connect(t, fake, "")

	if got := c.ImageFormat(); got != DefaultImageFormat {
		t.Fatalf("format before GetVersion = %q", got)
	}
	v, err := c.GetVersion(context.Background())
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.OBSWebSocketVersion != "5.4.2" {
		t.Errorf("version = %+v", v)
	}
	if got := c.ImageFormat(); got != "jpg" {
		t.Fatalf("format = %q, want jpg", got)
	}
}

func TestPreferredImageFormat(t *testing.T) {
	tests := []struct {
		supported []string
		want      string
	}{
		{[]string{"bmp", "png", "jpg"}, "jpg"},
		{[]string{"bmp", "PNG"}, "png"},
		{[]string{"jpeg", "bmp"}, "jpeg"},
		{[]string{"bmp", "tiff"}, "bmp"},
		{[]string{"webp"}, "png"},
		{nil, "png"},
	}
	for _, tt := range tests {
		if got := (Version{SupportedImageFormats: tt.supported}).PreferredImageFormat(); got != tt.want {
			t.Errorf("PreferredImageFormat(%v) = %q, want %q", tt.supported, got, tt.want)
		}
	}
}

func TestGetSourceScreenshot(t *testing.T) {
	fake := testutil.NewFakeOBS(t, "")
	fake.Handle("GetSourceScreenshot", func(d map[string]any) testutil.OBSResponse {
		if d["sourceName"] != "Camera" || d["imageFormat"] != "png" {
			return testutil.OBSResponse{Code: 600, Comment: "No source was found by the name of `" + d["sourceName"].(string) + "`."}
		}
		return testutil.OBSResponse{Data: map[string]any{"imageData": testutil.ScreenshotDataURI("png", []byte("PNGDATA"))}}
	})
	c := connect(t, fake, "")

	img, err := c.GetSourceScreenshot(context.Background(), "Camera", "png")
	if err != nil {
		t.Fatalf("GetSourceScreenshot: %v", err)
	}
	if string(img) != "PNGDATA" {
		t.Fatalf("image = %q", img)
	}
}

func TestSourceOfflineClassification(t *testing.T) {
	fake := testutil.NewFakeOBS(t, "")
	fake.Handle("GetSourceScreenshot", func(map[string]any) testutil.OBSResponse {
		return testutil.OBSResponse{Code: 702, Comment: "Failed to render screenshot."}
	})
	c := connect(t, fake, "")

	_, err := c.GetSourceScreenshot(context.Background(), "Game", "png")
	if !IsSourceOffline(err) {
		t.Fatalf("IsSourceOffline(%v) = false", err)
	}
	if IsFilterNotFound(err) {
		t.Fatal("offline capture classified as missing filter")
	}
	var re *RequestError
	if !errors.As(err, &re) || re.RequestType != "GetSourceScreenshot" || re.Code != 702 {
		t.Fatalf("unexpected error %#v", err)
	}
}

func TestFilterNotFoundClassification(t *testing.T) {
	fake := testutil.NewFakeOBS(t, "")
	fake.Handle("SetSourceFilterEnabled", func(d map[string]any) testutil.OBSResponse {
		if d["filterName"] == "Blur" {
			return testutil.OBSResponse{}
		}
		return testutil.OBSResponse{Code: 600, Comment: "No filter was found in the source `Cam` with the name `Nope`."}
	})
	c := connect(t, fake, "")

	if err := c.SetSourceFilterEnabled(context.Background(), "Cam", "Blur", true); err != nil {
		t.Fatalf("SetSourceFilterEnabled: %v", err)
	}
	err := c.SetSourceFilterEnabled(context.Background(), "Cam", "Nope", false)
	if !IsFilterNotFound(err) {
		t.Fatalf("IsFilterNotFound(%v) = false", err)
	}

	reqs := fake.RequestsOf("SetSourceFilterEnabled")
	if len(reqs) != 2 || reqs[0].Data["filterEnabled"] != true || reqs[1].Data["filterEnabled"] != false {
		t.Fatalf("requests = %+v", reqs)
	}
}

func TestSceneItemRequests(t *testing.T) {
	fake := testutil.NewFakeOBS(t, "")
	fake.Handle("GetSceneItemId", func(map[string]any) testutil.OBSResponse {
		return testutil.OBSResponse{Data: map[string]any{"sceneItemId": 12}}
	})
	c := connect(t, fake, "")

	id, err := c.GetSceneItemID(context.Background(), "Live", "Preview")
	if err != nil || id != 12 {
		t.Fatalf("GetSceneItemID = %d, %v", id, err)
	}
	if err := c.SetSceneItemEnabled(context.Background(), "Live", id, true); err != nil {
		t.Fatalf("SetSceneItemEnabled: %v", err)
	}
	reqs := fake.RequestsOf("SetSceneItemEnabled")
	if len(reqs) != 1 || reqs[0].Data["sceneItemId"] != float64(12) || reqs[0].Data["sceneItemEnabled"] != true {
		t.Fatalf("requests = %+v", reqs)
	}
}

func TestCallNotConnected(t *testing.T) {
	c := New(Config{Address: "127.0.0.1:1"})
	if _, err := c.Call(context.Background(), "GetVersion", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestUnsolicitedCloseReported(t *testing.T) {
	fake := testutil.NewFakeOBS(t, "")
	c := connect(t, fake, "")

	closed := make(chan error, 1)
	c.OnClose(func(err error) { closed <- err })
	fake.DropConnections()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called after server dropped the connection")
	}
	if c.Connected() {
		t.Fatal("client still reports connected")
	}
	if _, err := c.GetVersion(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("call after close = %v", err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if fake.Accepted() != 2 {
		t.Fatalf("accepted = %d, want 2", fake.Accepted())
	}
}

func TestDisconnectDoesNotReportClose(t *testing.T) {
	fake := testutil.NewFakeOBS(t, "")
	c := New(Config{Address: fake.URL(), RequestTimeout: time.Second})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	called := make(chan struct{}, 1)
	c.OnClose(func(error) { called <- struct{}{} })

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	select {
	case <-called:
		t.Fatal("OnClose called for a requested disconnect")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDecodeDataURI(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"data:image/png;base64,aGVsbG8=", "hello", false},
		{"aGVsbG8=", "hello", false},
		{"data:image/png,aGVsbG8=", "", true},
		{"data:image/png;base64", "", true},
		{"data:image/png;base64,!!!", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := DecodeDataURI(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("DecodeDataURI(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("DecodeDataURI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
