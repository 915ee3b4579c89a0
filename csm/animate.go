package csm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const animatePath = "/animate"

// DefaultAnimationTimeout bounds one call to the animation service,
// including streaming the result.
const DefaultAnimationTimeout = 120 * time.Second

// PromptAnimation asks the service to rig and animate a mesh from text.
type PromptAnimation struct {
	MeshB64JSON      string   `json:"mesh_b64_json"`
	TextPrompt       string   `json:"text_prompt"`
	IsGS             bool     `json:"is_gs"`
	OpacityThreshold float64  `json:"opacity_threshold"`
	NoFingers        bool     `json:"no_fingers"`
	RestPoseType     *string  `json:"rest_pose_type"`
	IgnorePoseParts  []string `json:"ignore_pose_parts"`
	InputNormal      bool     `json:"input_normal"`
	BWFix            bool     `json:"bw_fix"`
	BWVisBone        string   `json:"bw_vis_bone"`
	ResetToRest      bool     `json:"reset_to_rest"`
	Retarget         bool     `json:"retarget"`
	Inplace          bool     `json:"inplace"`
}

// NewPromptAnimation returns a request with the service defaults.
func NewPromptAnimation(meshB64, prompt string) PromptAnimation {
	return PromptAnimation{
		MeshB64JSON:     meshB64,
		TextPrompt:      prompt,
		IgnorePoseParts: []string{},
		BWFix:           true,
		BWVisBone:       "LeftArm",
		Retarget:        true,
		Inplace:         true,
	}
}

// FileAnimation retargets a driver animation file onto a mesh.
type FileAnimation struct {
	MeshB64Str         string `json:"mesh_b64_str"`
	AnimationFBXB64Str string `json:"animation_fbx_b64_str"`
}

// Animate posts payload to the animation service and streams the resulting
// FBX into w. Failures are *ServiceError values whose Reason separates
// timeouts from HTTP errors and malformed results.
func (c *Client) Animate(ctx context.Context, payload any, w io.Writer) (int64, error) {
	s, err := c.ready()
	if err != nil {
		return 0, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal animation request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.animationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.AnimationAPIBase+animatePath, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req, s.APIKey)

	start := time.Now()
	c.log.Info("sending animation request", "bytes", len(body))
	resp, err := c.animationClient.Do(req)
	if err != nil {
		return 0, c.animationError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		details, _ := io.ReadAll(io.LimitReader(resp.Body, 4*maxDetails))
		text := truncate(string(details), maxDetails)
		if text == "" {
			text = "No error details"
		}
		c.log.Warn("animation service returned error", "status", resp.StatusCode)
		return 0, &ServiceError{
			Reason:  ReasonHTTP,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("Animation server error: %d", resp.StatusCode),
			Details: text,
		}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, c.animationError(err)
	}
	if n == 0 {
		return 0, &ServiceError{
			Reason:  ReasonMalformed,
			Message: "Animation service returned an empty result",
		}
	}
	c.log.Info("animation received", "bytes", n, "duration", time.Since(start).Round(time.Millisecond))
	return n, nil
}

func (c *Client) animationError(err error) *ServiceError {
	if isTimeout(err) {
		return &ServiceError{
			Reason:  ReasonTimeout,
			Message: fmt.Sprintf("Animation service request timed out after %d seconds. The service might be busy or the model is too complex.", int(c.animationTimeout.Seconds())),
			Err:     err,
		}
	}
	return networkError("Animation request failed", err)
}
