// Package language wraps AWS Comprehend language detection and AWS Translate.
package language

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	"github.com/aws/aws-sdk-go-v2/service/translate"

	"github.com/telhawk-systems/signalhawk/common/config"
)

// English is the language code that needs no translation.
const English = "en"

// ErrUndetermined is returned when detection yields no candidate language.
var ErrUndetermined = errors.New("no dominant language detected")

// DetectAPI is the subset of the Comprehend client used for detection.
type DetectAPI interface {
	DetectDominantLanguage(ctx context.Context, params *comprehend.DetectDominantLanguageInput, optFns ...func(*comprehend.Options)) (*comprehend.DetectDominantLanguageOutput, error)
}

// TranslateAPI is the subset of the Translate client used for translation.
type TranslateAPI interface {
	TranslateText(ctx context.Context, params *translate.TranslateTextInput, optFns ...func(*translate.Options)) (*translate.TranslateTextOutput, error)
}

// Detector resolves the dominant language of a text.
type Detector struct {
	api DetectAPI
}

func NewDetector(api DetectAPI) *Detector {
	return &Detector{api: api}
}

// Detect returns the code of the highest scoring language.
func (d *Detector) Detect(ctx context.Context, text string) (string, error) {
	out, err := d.api.DetectDominantLanguage(ctx, &comprehend.DetectDominantLanguageInput{
		Text: aws.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("detect language: %w", err)
	}

	var (
		best  string
		score float32 = -1
	)
	for _, l := range out.Languages {
		code := aws.ToString(l.LanguageCode)
		if code == "" {
			continue
		}
		if s := aws.ToFloat32(l.Score); s > score {
			best, score = code, s
		}
	}
	if best == "" {
		return "", ErrUndetermined
	}
	return best, nil
}

// Translator translates text into a fixed target language.
type Translator struct {
	api    TranslateAPI
	target string
}

// NewTranslator returns a Translator targeting target, English when empty.
func NewTranslator(api TranslateAPI, target string) *Translator {
	if target == "" {
		target = English
	}
	return &Translator{api: api, target: target}
}

// Target returns the target language code.
func (t *Translator) Target() string {
	return t.target
}

// Translate translates text from source into the target language.
func (t *Translator) Translate(ctx context.Context, text, source string) (string, error) {
	out, err := t.api.TranslateText(ctx, &translate.TranslateTextInput{
		Text:               aws.String(text),
		SourceLanguageCode: aws.String(source),
		TargetLanguageCode: aws.String(t.target),
	})
	if err != nil {
		return "", fmt.Errorf("translate %s->%s: %w", source, t.target, err)
	}
	return aws.ToString(out.TranslatedText), nil
}

// NewClients builds the Comprehend and Translate clients for cfg. A non-empty
// Endpoint overrides the service endpoint of both, for LocalStack and tests.
func NewClients(ctx context.Context, cfg config.TranslateConfig) (*comprehend.Client, *translate.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	detect := comprehend.NewFromConfig(awsCfg, func(o *comprehend.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	trans := translate.NewFromConfig(awsCfg, func(o *translate.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return detect, trans, nil
}
