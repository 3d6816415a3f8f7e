package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"melonbooks-monitor/internal/models"
)

const (
	discordUsername  = "MelonbooksMonitor"
	discordAvatarURL = "https://www.melonbooks.co.jp/favicon.ico"
)

type discordMessage struct {
	Content   string         `json:"content"`
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Embeds    []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	URL         string            `json:"url"`
	Thumbnail   *discordThumbnail `json:"thumbnail,omitempty"`
}

type discordThumbnail struct {
	URL string `json:"url"`
}

// DiscordChannel posts to a Discord webhook, one embed per product.
type DiscordChannel struct {
	client     *http.Client
	webhookURL string
}

// NewDiscordChannel creates a channel for the given webhook url.
func NewDiscordChannel(webhookURL string) *DiscordChannel {
	return &DiscordChannel{
		client:     &http.Client{Timeout: 15 * time.Second},
		webhookURL: webhookURL,
	}
}

// SendNew posts one embed per product to the webhook.
func (d *DiscordChannel) SendNew(ctx context.Context, artist string, products []models.Product) error {
	return d.send(ctx, artist+": new products available:", products)
}

// SendReruns implements Channel.
func (d *DiscordChannel) SendReruns(ctx context.Context, artist string, products []models.Product) error {
	return d.send(ctx, artist+": products available again", products)
}

func (d *DiscordChannel) send(ctx context.Context, content string, products []models.Product) error {
	msg := discordMessage{
		Content:   content,
		Username:  discordUsername,
		AvatarURL: discordAvatarURL,
		Embeds:    make([]discordEmbed, 0, len(products)),
	}
	for _, p := range products {
		embed := discordEmbed{Title: p.Title, Description: p.URL, URL: p.URL}
		if p.ImageURL != "" {
			embed.Thumbnail = &discordThumbnail{URL: p.ImageURL}
		}
		msg.Embeds = append(msg.Embeds, embed)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("discord: encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
