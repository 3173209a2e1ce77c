package obs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultImageFormat is used when the controller has not reported any
// supported format that is in the preference list.
const DefaultImageFormat = "png"

// imageFormatPreference is the order in which capture formats are chosen.
var imageFormatPreference = []string{"jpg", "png", "jpeg", "bmp"}

// Version is the GetVersion response.
type Version struct {
	OBSVersion            string   `json:"obsVersion"`
	OBSWebSocketVersion   string   `json:"obsWebSocketVersion"`
	RPCVersion            int      `json:"rpcVersion"`
	Platform              string   `json:"platform"`
	SupportedImageFormats []string `json:"supportedImageFormats"`
}

// PreferredImageFormat picks the first format from jpg, png, jpeg, bmp that
// the controller supports, falling back to DefaultImageFormat.
func (v Version) PreferredImageFormat() string {
	for _, want := range imageFormatPreference {
		for _, have := range v.SupportedImageFormats {
			if strings.EqualFold(want, have) {
				return want
			}
		}
	}
	return DefaultImageFormat
}

// GetVersion queries controller capabilities and caches them for
// ImageFormat.
func (c *Client) GetVersion(ctx context.Context) (Version, error) {
	raw, err := c.Call(ctx, "GetVersion", nil)
	if err != nil {
		return Version{}, err
	}
	var v Version
	if err := json.Unmarshal(raw, &v); err != nil {
		return Version{}, fmt.Errorf("decode GetVersion: %w", err)
	}
	c.mu.Lock()
	c.version = v
	c.mu.Unlock()
	return v, nil
}

// ImageFormat is the negotiated capture format from the last GetVersion.
func (c *Client) ImageFormat() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version.PreferredImageFormat()
}

// GetSourceScreenshot captures a source and returns the decoded image bytes.
func (c *Client) GetSourceScreenshot(ctx context.Context, source, format string) ([]byte, error) {
	raw, err := c.Call(ctx, "GetSourceScreenshot", map[string]any{
		"sourceName":  source,
		"imageFormat": format,
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		ImageData string `json:"imageData"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode GetSourceScreenshot: %w", err)
	}
	return DecodeDataURI(resp.ImageData)
}

// DecodeDataURI decodes a base64 "data:image/<fmt>;base64,<payload>" string.
// A bare base64 payload is accepted too.
func DecodeDataURI(s string) ([]byte, error) {
	payload := s
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, errors.New("malformed data uri: missing payload")
		}
		if !strings.HasSuffix(s[:i], ";base64") {
			return nil, errors.New("malformed data uri: not base64")
		}
		payload = s[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errors.New("empty image data")
	}
	return b, nil
}

// GetSceneItemID resolves the numeric id of a source inside a scene.
func (c *Client) GetSceneItemID(ctx context.Context, scene, source string) (int, error) {
	raw, err := c.Call(ctx, "GetSceneItemId", map[string]any{
		"sceneName":  scene,
		"sourceName": source,
	})
	if err != nil {
		return 0, err
	}
	var resp struct {
		SceneItemID int `json:"sceneItemId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("decode GetSceneItemId: %w", err)
	}
	return resp.SceneItemID, nil
}

// SetSceneItemEnabled shows or hides a scene item.
func (c *Client) SetSceneItemEnabled(ctx context.Context, scene string, itemID int, enabled bool) error {
	_, err := c.Call(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        scene,
		"sceneItemId":      itemID,
		"sceneItemEnabled": enabled,
	})
	return err
}

// SetSourceFilterEnabled enables or disables a filter on a source.
func (c *Client) SetSourceFilterEnabled(ctx context.Context, source, filter string, enabled bool) error {
	_, err := c.Call(ctx, "SetSourceFilterEnabled", map[string]any{
		"sourceName":    source,
		"filterName":    filter,
		"filterEnabled": enabled,
	})
	return err
}
