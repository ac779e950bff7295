package alerts

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/config"
	"github.com/coah80/reelup/internal/upload"
)

const (
	colorOrange = 0xFFA500
	colorRed    = 0xFF4444
	colorGreen  = 0x2ECC71
)

const failureCooldown = 5 * time.Second

// Sender delivers one webhook message.
type Sender func(p *discordgo.WebhookParams) error

// Notifier posts operational events to a Discord webhook. A Notifier built
// from a config without a webhook URL drops everything.
type Notifier struct {
	send   Sender
	pingID string
	log    *zap.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time
	now       func() time.Time
	wg        sync.WaitGroup
}

type Option func(*Notifier)

// WithSender replaces the webhook call.
func WithSender(s Sender) Option {
	return func(n *Notifier) { n.send = s }
}

func New(cfg config.AlertsConfig, log *zap.Logger, opts ...Option) (*Notifier, error) {
	n := &Notifier{
		pingID:    cfg.DiscordPingUserID,
		log:       log.Named("alerts"),
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
	if cfg.Enabled() {
		id, token, err := parseWebhookURL(cfg.DiscordWebhookURL)
		if err != nil {
			return nil, err
		}
		session, err := discordgo.New("")
		if err != nil {
			return nil, fmt.Errorf("alerts: discord session: %w", err)
		}
		n.send = func(p *discordgo.WebhookParams) error {
			_, err := session.WebhookExecute(id, token, false, p)
			return err
		}
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// parseWebhookURL splits https://discord.com/api/webhooks/<id>/<token>.
func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("alerts: webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("alerts: %q is not a webhook url", raw)
}

func (n *Notifier) post(category string, cooldown time.Duration, ping bool, color int, title, description string, fields map[string]string) {
	if n == nil || n.send == nil {
		return
	}

	n.mu.Lock()
	now := n.now()
	if cooldown > 0 {
		if last, ok := n.cooldowns[category]; ok && now.Sub(last) < cooldown {
			n.mu.Unlock()
			return
		}
	}
	n.cooldowns[category] = now
	n.mu.Unlock()

	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	embedFields := make([]*discordgo.MessageEmbedField, 0, len(keys))
	for _, k := range keys {
		embedFields = append(embedFields, &discordgo.MessageEmbedField{Name: k, Value: truncate(fields[k], 1024), Inline: true})
	}

	p := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       title,
			Description: truncate(description, 2048),
			Color:       color,
			Fields:      embedFields,
			Timestamp:   now.UTC().Format(time.RFC3339),
			Footer:      &discordgo.MessageEmbedFooter{Text: "reelup " + config.Version},
		}},
	}
	if ping && n.pingID != "" {
		p.Content = fmt.Sprintf("<@%s>", n.pingID)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.send(p); err != nil {
			n.log.Warn("discord send failed", zap.String("category", category), zap.Error(err))
		}
	}()
}

// Flush waits for in-flight sends.
func (n *Notifier) Flush() {
	if n != nil {
		n.wg.Wait()
	}
}

func (n *Notifier) ServerStarted(addr string) {
	n.post("server-start", 0, false, colorGreen, "Server Started", fmt.Sprintf("reelup %s listening on %s", config.Version, addr), nil)
}

func (n *Notifier) ServerStopping() {
	n.post("server-stop", 0, false, colorOrange, "Server Stopping", "reelup is shutting down", nil)
}

// TaskUpdated alerts on failed tasks. Compression and upload failures have
// separate cooldowns.
func (n *Notifier) TaskUpdated(v upload.TaskView) {
	if v.Status != upload.StatusError {
		return
	}
	category, title := "upload", "Upload Failed"
	if strings.HasPrefix(v.Error, "compress:") {
		category, title = "compression", "Compression Failed"
	}
	n.post(category, failureCooldown, true, colorRed, title, v.Error, map[string]string{
		"Task":   v.ID,
		"File":   truncate(v.FileName, 200),
		"Folder": v.Folder,
		"Error":  truncate(v.Error, 500),
	})
}

func (n *Notifier) DiskSpaceLow(availGB float64) {
	n.post("disk", time.Hour, true, colorOrange, "Low Disk Space", fmt.Sprintf("%.1f GB free", availGB), nil)
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
