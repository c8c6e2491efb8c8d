// Package config handles daemon configuration
package config

import (
	"os"
	"strconv"
	"time"

	apperrors "github.com/voicewire/voicewire/internal/errors"
)

type Config struct {
	HTTPAddr string
	STTAddr  string

	SampleRate      int
	FrameSize       int
	PreferredDevice string

	TargetVolume     float64
	SilenceThreshold float64
	EnableDenoising  bool

	VADThreshold    float64
	VADSensitivity  float64
	AdaptiveVAD     bool
	MinConfidence   float64
	SilenceTimeout  time.Duration
	AutoStop        bool
	Language        string
	Model           string
	TranscribeRetry bool
	EnableBreaker   bool
}

func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8000"),
		STTAddr:  getEnv("STT_ADDR", "http://localhost:8001"),

		SampleRate:      getEnvInt("SAMPLE_RATE", 16000),
		FrameSize:       getEnvInt("FRAME_SIZE", 4096),
		PreferredDevice: getEnv("PREFERRED_DEVICE", ""),

		TargetVolume:     getEnvFloat("TARGET_VOLUME", 0.8),
		SilenceThreshold: getEnvFloat("SILENCE_THRESHOLD", 0.01),
		EnableDenoising:  getEnvBool("ENABLE_DENOISING", true),

		VADThreshold:    getEnvFloat("VAD_THRESHOLD", 0.01),
		VADSensitivity:  getEnvFloat("VAD_SENSITIVITY", 1.0),
		AdaptiveVAD:     getEnvBool("ADAPTIVE_VAD", true),
		MinConfidence:   getEnvFloat("MIN_CONFIDENCE", 0.5),
		SilenceTimeout:  time.Duration(getEnvInt("SILENCE_TIMEOUT_MS", 3000)) * time.Millisecond,
		AutoStop:        getEnvBool("AUTO_STOP", true),
		Language:        getEnv("LANGUAGE", ""),
		Model:           getEnv("STT_MODEL", "tiny"),
		TranscribeRetry: getEnvBool("TRANSCRIBE_RETRY", true),
		EnableBreaker:   getEnvBool("ENABLE_BREAKER", true),
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return apperrors.Newf(apperrors.Configuration, "invalid sample rate: %d", c.SampleRate)
	}
	if c.FrameSize <= 0 {
		return apperrors.Newf(apperrors.Configuration, "invalid frame size: %d", c.FrameSize)
	}
	if c.TargetVolume <= 0 || c.TargetVolume > 1 {
		return apperrors.Newf(apperrors.Configuration, "target volume %f outside (0, 1]", c.TargetVolume)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return apperrors.Newf(apperrors.Configuration, "min confidence %f outside [0, 1]", c.MinConfidence)
	}
	if c.SilenceTimeout <= 0 {
		return apperrors.Newf(apperrors.Configuration, "silence timeout must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}
