package scene

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/singed/scenelink/internal/core/observability/log"
	"github.com/singed/scenelink/internal/core/session"
)

// LightmapParams configures a lightmap bake on the server.
type LightmapParams struct {
	LightDirection        Vec3   `json:"light_direction" yaml:"light_direction"`
	LightIntensity        Vec3   `json:"light_intensity" yaml:"light_intensity"`
	Ambient               Vec3   `json:"ambient" yaml:"ambient"`
	NumIndirectSampleSets int    `json:"num_indirect_sample_sets" yaml:"num_indirect_sample_sets"`
	NumAccumulationSteps  int    `json:"num_accumulation_steps" yaml:"num_accumulation_steps"`
	NumPostSteps          int    `json:"post_process_steps" yaml:"post_process_steps"`
	LightmapPath          string `json:"lightmap_path" yaml:"lightmap_path"`
}

func DefaultLightmapParams() LightmapParams {
	return LightmapParams{
		LightDirection:        Vec3{0, 0, -1},
		LightIntensity:        Vec3{1, 1, 1},
		NumIndirectSampleSets: 16,
		NumAccumulationSteps:  1,
		NumPostSteps:          2,
	}
}

func (p LightmapParams) Validate() error {
	switch {
	case strings.TrimSpace(p.LightmapPath) == "":
		return fmt.Errorf("%w: no lightmap path", ErrInvalidLightmapParams)
	case p.NumIndirectSampleSets <= 0:
		return fmt.Errorf("%w: indirect sample sets must be positive", ErrInvalidLightmapParams)
	case p.NumAccumulationSteps <= 0:
		return fmt.Errorf("%w: accumulation steps must be positive", ErrInvalidLightmapParams)
	case p.NumPostSteps < 0:
		return fmt.Errorf("%w: post-process steps must not be negative", ErrInvalidLightmapParams)
	}
	return nil
}

// SaveScene asks the server to save the scene to path on the next cycle.
// A later call before then replaces the path.
func (m *Manager) SaveScene(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyScenePath
	}
	m.saveScenePath = path
	return nil
}

// GenerateLightmaps asks the server to bake lightmaps on the next cycle.
func (m *Manager) GenerateLightmaps(params LightmapParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	m.lightmaps = &params
	return nil
}

// SetLightmapsGeneratedFunc registers fn to receive the bake time reported by
// the server.
func (m *Manager) SetLightmapsGeneratedFunc(fn func(elapsed time.Duration)) {
	m.lightmapsGenerated = fn
}

type saveSceneRequest struct {
	Path string `json:"path"`
}

func (m *Manager) saveSceneQuery(uint32, session.Priority) any {
	if m.saveScenePath == "" {
		return nil
	}
	msg := saveSceneRequest{Path: m.saveScenePath}
	m.saveScenePath = ""
	return msg
}

func (m *Manager) lightmapsQuery(uint32, session.Priority) any {
	if m.lightmaps == nil {
		return nil
	}
	msg := *m.lightmaps
	m.lightmaps = nil
	return msg
}

// lightmapsResponse receives the bake time in milliseconds.
func (m *Manager) lightmapsResponse(_ uint32, payload json.RawMessage) error {
	if isNull(payload) {
		return nil
	}

	var millis float64
	if err := json.Unmarshal(payload, &millis); err != nil {
		return fmt.Errorf("decode gen_lightmaps: %w", err)
	}
	elapsed := time.Duration(millis * float64(time.Millisecond))

	m.logger.Info("Lightmaps generated", log.Duration("elapsed", elapsed))
	if m.lightmapsGenerated != nil {
		m.lightmapsGenerated(elapsed)
	}
	return nil
}
