package mailbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mxpv/pledgesync/pkg/model"
)

const maxGmailResults = 100

type GmailConfig struct {
	CredentialsFile string
	TokenFile       string
	User            string
	From            string
}

// Gmail reads confirmation threads and sends mail on behalf of one mailbox.
// Labels are the only record of which threads were handled.
type Gmail struct {
	client *gmail.Service
	user   string
	from   string

	mu     sync.Mutex
	byName map[string]string
	byID   map[string]string
}

var (
	_ Mailbox = (*Gmail)(nil)
	_ Mailer  = (*Gmail)(nil)
)

func NewGmail(ctx context.Context, cfg GmailConfig) (*Gmail, error) {
	client, err := oauthClient(ctx, cfg.CredentialsFile, cfg.TokenFile)
	if err != nil {
		return nil, err
	}

	service, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gmail client")
	}

	return NewGmailWithService(service, cfg.User, cfg.From), nil
}

func NewGmailWithService(service *gmail.Service, user, from string) *Gmail {
	return &Gmail{
		client: service,
		user:   user,
		from:   from,
	}
}

func oauthClient(ctx context.Context, credentialsFile, tokenFile string) (*http.Client, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read credentials file %s", credentialsFile)
	}

	config, err := google.ConfigFromJSON(data, gmail.GmailModifyScope)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse oauth credentials")
	}

	file, err := os.Open(tokenFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open token file %s, authorize the mailbox first", tokenFile)
	}
	defer file.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(file).Decode(token); err != nil {
		return nil, errors.Wrapf(err, "failed to decode token file %s", tokenFile)
	}

	return config.Client(ctx, token), nil
}

// Cost: 10 units for the list call plus 10 per thread
// See https://developers.google.com/gmail/api/reference/rest/v1/users.threads/list
func (g *Gmail) Search(ctx context.Context, query string, limit int) ([]*model.Signal, error) {
	if err := g.loadLabels(ctx); err != nil {
		return nil, err
	}

	var (
		ids       []string
		pageToken string
	)

	for len(ids) < limit {
		size := limit - len(ids)
		if size > maxGmailResults {
			size = maxGmailResults
		}

		req := g.client.Users.Threads.List(g.user).Q(query).MaxResults(int64(size))
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		resp, err := req.Context(ctx).Do()
		if err != nil {
			return nil, errors.Wrap(err, "failed to query threads")
		}

		for _, thread := range resp.Threads {
			ids = append(ids, thread.Id)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	if len(ids) > limit {
		ids = ids[:limit]
	}

	signals := make([]*model.Signal, 0, len(ids))
	for _, id := range ids {
		signal, err := g.getThread(ctx, id)
		if err != nil {
			return nil, err
		}
		signals = append(signals, signal)
	}

	return signals, nil
}

func (g *Gmail) getThread(ctx context.Context, threadID string) (*model.Signal, error) {
	thread, err := g.client.Users.Threads.Get(g.user, threadID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get thread %s", threadID)
	}

	signal := &model.Signal{ID: thread.Id}
	labels := map[string]struct{}{}

	for _, msg := range thread.Messages {
		headers := map[string]string{}
		if msg.Payload != nil {
			for _, header := range msg.Payload.Headers {
				headers[strings.ToLower(header.Name)] = header.Value
			}
		}

		if signal.Subject == "" {
			signal.Subject = headers["subject"]
		}

		for _, labelID := range msg.LabelIds {
			labels[labelID] = struct{}{}
		}

		signal.Messages = append(signal.Messages, &model.Message{
			ID:   msg.Id,
			From: headers["from"],
			Date: time.UnixMilli(msg.InternalDate).UTC(),
			Body: plainText(msg.Payload),
		})
	}

	g.mu.Lock()
	for labelID := range labels {
		if name, ok := g.byID[labelID]; ok {
			signal.Labels = append(signal.Labels, name)
		} else {
			signal.Labels = append(signal.Labels, labelID)
		}
	}
	g.mu.Unlock()

	return signal, nil
}

func (g *Gmail) AddLabel(ctx context.Context, signal *model.Signal, name string) error {
	labelID, err := g.labelID(ctx, name)
	if err != nil {
		return err
	}

	return g.modify(ctx, signal.ID, &gmail.ModifyThreadRequest{AddLabelIds: []string{labelID}})
}

func (g *Gmail) RemoveLabel(ctx context.Context, signal *model.Signal, name string) error {
	labelID, err := g.labelID(ctx, name)
	if err != nil {
		return err
	}

	return g.modify(ctx, signal.ID, &gmail.ModifyThreadRequest{RemoveLabelIds: []string{labelID}})
}

// See https://developers.google.com/gmail/api/reference/rest/v1/users.threads/modify
func (g *Gmail) modify(ctx context.Context, threadID string, req *gmail.ModifyThreadRequest) error {
	if _, err := g.client.Users.Threads.Modify(g.user, threadID, req).Context(ctx).Do(); err != nil {
		return errors.Wrapf(err, "failed to modify labels of thread %s", threadID)
	}
	return nil
}

// Send delivers a plain text message and returns the Gmail message id.
// See https://developers.google.com/gmail/api/reference/rest/v1/users.messages/send
func (g *Gmail) Send(ctx context.Context, notification *model.Notification) (string, error) {
	if err := notification.Validate(); err != nil {
		return "", err
	}

	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(g.compose(notification)),
		ThreadId: notification.ThreadID,
	}

	sent, err := g.client.Users.Messages.Send(g.user, msg).Context(ctx).Do()
	if err != nil {
		return "", errors.Wrapf(err, "failed to send %s message", notification.Kind)
	}

	log.WithFields(log.Fields{
		"kind":       notification.Kind,
		"message_id": sent.Id,
		"thread_id":  sent.ThreadId,
	}).Info("message sent")

	return sent.Id, nil
}

func (g *Gmail) compose(notification *model.Notification) []byte {
	var buf bytes.Buffer
	if g.from != "" {
		fmt.Fprintf(&buf, "From: %s\r\n", g.from)
	}
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(notification.To, ", "))
	if notification.ReplyTo != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", notification.ReplyTo)
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", notification.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	buf.WriteString(notification.Body)
	return buf.Bytes()
}

// See https://developers.google.com/gmail/api/reference/rest/v1/users.labels/list
func (g *Gmail) loadLabels(ctx context.Context) error {
	resp, err := g.client.Users.Labels.List(g.user).Context(ctx).Do()
	if err != nil {
		return errors.Wrap(err, "failed to list labels")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.byName = make(map[string]string, len(resp.Labels))
	g.byID = make(map[string]string, len(resp.Labels))
	for _, label := range resp.Labels {
		g.byName[label.Name] = label.Id
		g.byID[label.Id] = label.Name
	}

	return nil
}

// labelID resolves a label name, creating the label on first use.
func (g *Gmail) labelID(ctx context.Context, name string) (string, error) {
	g.mu.Lock()
	id, ok := g.byName[name]
	g.mu.Unlock()
	if ok {
		return id, nil
	}

	if err := g.loadLabels(ctx); err != nil {
		return "", err
	}

	g.mu.Lock()
	id, ok = g.byName[name]
	g.mu.Unlock()
	if ok {
		return id, nil
	}

	label, err := g.client.Users.Labels.Create(g.user, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", errors.Wrapf(err, "failed to create label %q", name)
	}

	log.Infof("created label %q (%s)", name, label.Id)

	g.mu.Lock()
	g.byName[label.Name] = label.Id
	g.byID[label.Id] = label.Name
	g.mu.Unlock()

	return label.Id, nil
}

// plainText returns the first text/plain body of a message, falling back to
// the top level body.
func plainText(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}

	if strings.HasPrefix(part.MimeType, "text/plain") && part.Body != nil && part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}

	for _, child := range part.Parts {
		if text := plainText(child); text != "" {
			return text
		}
	}

	if len(part.Parts) == 0 && part.Body != nil && part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}

	return ""
}

func decodeBody(data string) string {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		log.WithError(err).Warn("failed to decode message body")
		return ""
	}
	return string(decoded)
}
