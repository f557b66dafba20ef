// Package doctor implements the multimodal generation client: it turns a
// composed prompt plus an optional encoded image into a chat-style request,
// sends it to the configured generation backend, and returns the clinician
// answer text. The backend is an eino ChatModel constructed by the provider
// package, so every supported provider shares this one request shape.
package doctor

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/sdhillon/medvoice-go/internal/prompt"
)

// imageMIMEType is the media type declared for every inline image.
// Uploads are normalized to JPEG before reaching this client.
const imageMIMEType = "image/jpeg"

// GenerationError reports a failed generation attempt: network or auth
// failure, a malformed response, or an empty completion. Fatal for the
// consultation — no partial answer is fabricated downstream.
type GenerationError struct {
	// Model is the model identifier the request targeted.
	Model string
	// Err is the underlying cause.
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("doctor: generation with %s failed: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Client sends composed prompts to a generation backend.
// Safe for concurrent use; each call is independent.
type Client struct {
	// chatModel is the generation backend.
	chatModel model.BaseChatModel

	// modelName labels errors; the backend itself was bound to the model
	// at construction time.
	modelName string
}

// NewClient constructs a Client over the given chat model. modelName is used
// only to label errors and logs.
func NewClient(chatModel model.BaseChatModel, modelName string) (*Client, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("doctor: chat model must not be nil")
	}
	return &Client{chatModel: chatModel, modelName: modelName}, nil
}

// Generate sends the composed prompt (and, when non-empty, the base64-encoded
// JPEG image) to the backend and returns the answer text.
//
// Wire shape: the persona occupies the system role; the user role carries an
// ordered list of content parts — the instruction text first, then the image
// as an inline data URI. The first completion's text is the answer.
func (c *Client) Generate(ctx context.Context, composed prompt.Composed, encodedImage string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(composed.System),
		buildUserMessage(composed.Instruction, encodedImage),
	}

	resp, err := c.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", &GenerationError{Model: c.modelName, Err: err}
	}
	if resp == nil {
		return "", &GenerationError{Model: c.modelName, Err: fmt.Errorf("backend returned nil message")}
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", &GenerationError{Model: c.modelName, Err: fmt.Errorf("backend returned an empty completion")}
	}

	return answer, nil
}

// buildUserMessage assembles the user-role message. Without an image it is a
// plain text message; with one it becomes a multi-part message whose image
// part references the payload as an inline data URI.
func buildUserMessage(instruction, encodedImage string) *schema.Message {
	if encodedImage == "" {
		return schema.UserMessage(instruction)
	}

	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{
				Type: schema.ChatMessagePartTypeText,
				Text: instruction,
			},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      ImageDataURI(encodedImage),
					MIMEType: imageMIMEType,
				},
			},
		},
	}
}

// ImageDataURI wraps a base64 payload in the data-URI form the wire protocol
// expects for inline images.
func ImageDataURI(encoded string) string {
	return "data:" + imageMIMEType + ";base64," + encoded
}
