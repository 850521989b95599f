package config

import "path/filepath"

// SubmissionsPath returns the absolute-or-relative directory for uploads.
func (m *MediaConfig) SubmissionsPath() string {
	return filepath.Join(m.Root, m.SubmissionsDir)
}

// FramesPath returns the directory that holds frames and their overlays.
func (m *MediaConfig) FramesPath() string {
	return filepath.Join(m.Root, m.FramesDir)
}

// CropsPath returns the directory that holds face crops.
func (m *MediaConfig) CropsPath() string {
	return filepath.Join(m.Root, m.CropsDir)
}

// SyntheticPath returns the directory used by the AI-generated image detector.
func (m *MediaConfig) SyntheticPath() string {
	return filepath.Join(m.Root, m.SyntheticDir)
}
