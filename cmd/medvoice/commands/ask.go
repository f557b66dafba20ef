package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sdhillon/medvoice-go/internal/logging"
	"github.com/sdhillon/medvoice-go/internal/pipeline"
)

// NewAskCmd constructs the `medvoice ask` command, which runs a single
// consultation and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	var imagePath string
	var audioPath string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the doctor a single question",
		Long: `Run a one-shot consultation and print the answer.

The question can be given as an argument, or as a recorded audio file with
--audio. An optional --image attaches a photo (e.g. of a skin condition) to
the consultation.

Examples:
  medvoice ask "what are the early symptoms of shingles?"
  medvoice ask --image rash.jpg "what could this rash on my arm be?"
  medvoice ask --audio question.wav`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" && audioPath == "" {
				return errors.New("ask: provide a question or an --audio recording")
			}

			p, _, closeRetriever, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closeRetriever()

			req := &pipeline.Request{
				Mode:    pipeline.ModeText,
				Message: question,
			}
			if audioPath != "" {
				req.Mode = pipeline.ModeVoice
				req.AudioPath = audioPath
			}
			if imagePath != "" {
				img, err := os.ReadFile(imagePath)
				if err != nil {
					return fmt.Errorf("ask: read image: %w", err)
				}
				req.ImageData = img
			}

			res, err := p.Handle(ctx, req)
			if err != nil {
				// A partial result still carries the answer text. Print what
				// we have before reporting the failure.
				if res != nil && res.AnswerText != "" {
					printResult(cmd, res)
					fmt.Fprintf(os.Stderr, "warning: audio synthesis failed: %v\n", err)
					return nil
				}
				return err
			}

			printResult(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "Image file to attach to the consultation")
	cmd.Flags().StringVarP(&audioPath, "audio", "a", "", "Recorded audio file containing the question")

	return cmd
}

func printResult(cmd *cobra.Command, res *pipeline.Result) {
	if res.RecognizedText != "" {
		cmd.Printf("You asked: %s\n\n", res.RecognizedText)
	}
	cmd.Println(res.AnswerText)
	if res.AudioPath != "" {
		cmd.Printf("\nSpoken answer (%s): %s\n", res.TTSProvider, res.AudioPath)
	}
}
