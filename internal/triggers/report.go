package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/ai"
	"github.com/nextlevelbuilder/wagate/internal/media"
	"github.com/nextlevelbuilder/wagate/internal/message"
	"github.com/nextlevelbuilder/wagate/internal/transport"
	"github.com/nextlevelbuilder/wagate/internal/webhook"
)

// A1Usage is returned for a bare ".a1" with no report text.
const A1Usage = "Format: .a1 <pesan laporan>\nContoh: .a1 laporan ada kerusakan plafond"

// DefaultCategory is used when no structured category is available.
const DefaultCategory = "umum"

var a1Prefix = regexp.MustCompile(`(?i)^\.a1\s*`)

// Uploader stores report evidence and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, meta media.Metadata) (*media.Result, error)
}

// Structurer turns report text into a title and category.
type Structurer interface {
	StructuredReport(ctx context.Context, text string) (*ai.Report, error)
}

// Notifier delivers the report to the tracking endpoint.
type Notifier interface {
	DeliverWithRetry(ctx context.Context, payload interface{}, maxAttempts int) webhook.Outcome
}

// Reporter handles ".a1" reports. Uploader and Structurer are optional.
type Reporter struct {
	Uploader   Uploader
	Structurer Structurer
	Notifier   Notifier
	Location   *time.Location
	Now        func() time.Time
}

// NewReporter returns a Reporter that timestamps in Asia/Jakarta, falling
// back to UTC+7 when the zone database is unavailable.
func NewReporter(up Uploader, st Structurer, n Notifier) *Reporter {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		loc = time.FixedZone("WIB", 7*60*60)
	}
	return &Reporter{Uploader: up, Structurer: st, Notifier: n, Location: loc, Now: time.Now}
}

// Handle builds the acknowledgement text and forwards the report. Upload,
// AI and webhook failures are logged; they never fail the handler.
func (r *Reporter) Handle(ctx context.Context, req Request) (string, error) {
	content := strings.TrimSpace(a1Prefix.ReplaceAllString(req.Text, ""))
	if content == "" {
		return A1Usage, nil
	}
	slog.Debug("processing a1 report", "sender", req.Sender.PhoneNumber, "type", req.Sender.MessageType)

	ack := r.acknowledgement(content, req.Sender)

	// The report keeps going after the triggering message's context ends.
	bg := context.WithoutCancel(ctx)
	evidence := r.evidence(bg, req)
	title, category := r.classify(bg, content)

	if r.Notifier != nil {
		payload := webhook.ReportPayload{
			WAUser:      webhook.ReportUser{Name: displayName(req.Sender.Name), Phone: req.Sender.PhoneNumber},
			Task:        webhook.ReportTask{Title: title, Category: category, Evidence: evidence},
			WAMessageID: req.MessageID,
		}
		out := r.Notifier.DeliverWithRetry(bg, payload, 0)
		if out.Success {
			slog.Info("a1 report forwarded", "message_id", req.MessageID, "attempts", len(out.Attempts))
		} else {
			slog.Warn("a1 report not forwarded", "message_id", req.MessageID, "reason", out.Reason, "error", out.Error)
		}
	}
	return ack, nil
}

func (r *Reporter) acknowledgement(content string, s SenderInfo) string {
	now := r.Now().In(r.Location)
	t := s.MessageType
	if t == "" {
		t = message.TypeText
	}
	return fmt.Sprintf("📋 LAPORAN DITERIMA\n\nPelapor: %s\nNomor HP: %s\nWaktu: %s\nTipe: %s\nPesan: %s\n\nStatus: ✅ Laporan telah diterima dan akan diproses",
		displayName(s.Name), s.PhoneNumber, now.Format("02/01/2006 15.04.05"), t.Label(), content)
}

func displayName(name string) string {
	if name == "" {
		return "Unknown"
	}
	return name
}

// evidence downloads and uploads the attachment of a media report.
func (r *Reporter) evidence(ctx context.Context, req Request) string {
	if r.Uploader == nil || req.Client == nil || req.Raw == nil || !req.Sender.MessageType.CaptionBearing() {
		return ""
	}
	mt := transport.Mimetype(req.Raw.Content)
	if _, ok := media.Allowed(mt); !ok {
		slog.Warn("a1 evidence type not allowed", "mimetype", mt)
		return ""
	}
	data, err := req.Client.DownloadMedia(ctx, req.Raw)
	if err != nil {
		slog.Warn("a1 evidence download failed", "message_id", req.MessageID, "error", err)
		return ""
	}
	var name string
	if doc, ok := req.Raw.Content.(transport.DocumentContent); ok {
		name = doc.FileName
	}
	res, err := r.Uploader.Upload(ctx, data, media.Metadata{
		Filename: media.FileName(req.MessageID, mt, name),
		Mimetype: mt,
		Caption:  transport.Caption(req.Raw.Content),
	})
	if err != nil {
		slog.Warn("a1 evidence upload failed", "message_id", req.MessageID, "error", err)
		return ""
	}
	return res.URL
}

// classify asks the structurer for a title and category, falling back to the
// report text itself.
func (r *Reporter) classify(ctx context.Context, content string) (string, string) {
	title, category := content, DefaultCategory
	if r.Structurer == nil {
		return title, category
	}
	rep, err := r.Structurer.StructuredReport(ctx, content)
	if err != nil {
		slog.Warn("a1 report structuring failed", "error", err)
		return title, category
	}
	if rep.Title != "" {
		title = rep.Title
	}
	if rep.Category != "" {
		category = rep.Category
	}
	return title, category
}
