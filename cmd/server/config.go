package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"pdfchat/internal/chatbot"
	"pdfchat/internal/models"
	"pdfchat/internal/stream"
)

type config struct {
	Port    string     `yaml:"port"`
	DataDir string     `yaml:"dataDir"`
	Chat    chatConfig `yaml:"chat"`
}

type chatConfig struct {
	ChunkSize        int   `yaml:"chunkSize"`
	TokenDelayMS     int   `yaml:"tokenDelayMS"`
	EnableStreaming  *bool `yaml:"enableStreaming"`
	MinMessageLength *int  `yaml:"minMessageLength"`
	MaxMessageLength *int  `yaml:"maxMessageLength"`
	MaxUploadBytes   int64 `yaml:"maxUploadBytes"`
}

const defaultMaxUploadBytes = 10 << 20

func loadConfig(r io.Reader) (config, error) {
	cfg := config{
		Port: "8080",
		Chat: chatConfig{
			ChunkSize:      chatbot.DefaultChunkSize,
			TokenDelayMS:   int(stream.DefaultTokenDelay / time.Millisecond),
			MaxUploadBytes: defaultMaxUploadBytes,
		},
	}

	// An empty config file means all defaults.
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.Chat.ChunkSize < 1 {
		return fmt.Errorf("chat.chunkSize must be at least 1")
	}
	if c.Chat.TokenDelayMS < 0 {
		return fmt.Errorf("chat.tokenDelayMS must not be negative")
	}
	if c.Chat.MaxUploadBytes < 1 {
		return fmt.Errorf("chat.maxUploadBytes must be positive")
	}
	mc := c.chatModelConfig()
	if mc.MinMessageLength < 0 || mc.MaxMessageLength < mc.MinMessageLength {
		return fmt.Errorf("chat message length bounds must satisfy 0 <= min <= max")
	}
	return nil
}

// chatModelConfig folds the optional yaml fields onto the model defaults.
func (c config) chatModelConfig() models.ChatConfig {
	cfg := models.DefaultChatConfig()
	if c.Chat.EnableStreaming != nil {
		cfg.EnableStreaming = *c.Chat.EnableStreaming
	}
	if c.Chat.MinMessageLength != nil {
		cfg.MinMessageLength = *c.Chat.MinMessageLength
	}
	if c.Chat.MaxMessageLength != nil {
		cfg.MaxMessageLength = *c.Chat.MaxMessageLength
	}
	return cfg
}

func (c config) tokenDelay() time.Duration {
	return time.Duration(c.Chat.TokenDelayMS) * time.Millisecond
}
