package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/signalhawk/cli/pkg/output"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/models"
	"github.com/telhawk-systems/signalhawk/decipher/pkg/cipher"
	"github.com/telhawk-systems/signalhawk/decipher/pkg/keys"
)

type decipherResult struct {
	Alg       string `json:"alg" yaml:"alg"`
	Kid       string `json:"kid" yaml:"kid"`
	Plaintext string `json:"plaintext" yaml:"plaintext"`
}

var encodeCmd = &cobra.Command{
	Use:   "encode <plaintext>",
	Short: "Encode a dark signal payload",
	Long: `Encode plain text with a substitution alphabet and print the base64
payload a dark signal carries in originalPayload.data.`,
	Example: `  sigctl encode "hello world" --kid k1 --key qwertyuiopasdfghjklzxcvbnm
  sigctl encode "hello world" --kid k1 --key qwertyuiopasdfghjklzxcvbnm --event`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kid, _ := cmd.Flags().GetString("kid")
		alphabet, _ := cmd.Flags().GetString("key")
		asEvent, _ := cmd.Flags().GetBool("event")

		if kid == "" || alphabet == "" {
			return fmt.Errorf("--kid and --key are required")
		}

		data, err := cipher.EncodePayload(cipher.Payload{
			Alg:    cipher.Algorithm,
			Kid:    kid,
			Cipher: cipher.Encode(args[0], alphabet),
		})
		if err != nil {
			return err
		}

		if !asEvent {
			fmt.Fprintln(cmd.OutOrStdout(), data)
			return nil
		}
		return output.JSON(cmd.OutOrStdout(), models.Event{
			Type:            models.TypeDarkSignal,
			OriginalPayload: &models.OriginalPayload{Data: data},
		})
	},
}

var decipherCmd = &cobra.Command{
	Use:   "decipher <payload | event-json>",
	Short: "Decipher a dark signal offline",
	Long: `Decipher a dark signal payload. The argument is either the base64 payload
or a whole dark signal event. Keys come from --key flags, a local key
document (--keys-file) or the key endpoint (--keys-url, default from config).`,
	Example: `  sigctl decipher eyJhbGciOi... --key k1=qwertyuiopasdfghjklzxcvbnm
  sigctl decipher '{"type":"dark-signal","originalPayload":{"data":"eyJ..."}}' --keys-file keys.xml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := payloadData(args[0])
		if err != nil {
			return err
		}
		payload, err := cipher.ParsePayload(data)
		if err != nil {
			return err
		}

		keySet, err := loadKeys(cmd)
		if err != nil {
			return err
		}

		plain, err := cipher.Decipher(payload, keySet)
		if err != nil {
			return err
		}

		result := decipherResult{Alg: payload.Alg, Kid: payload.Kid, Plaintext: plain}
		table := output.NewTable("KID", "PLAINTEXT")
		table.AddRow(result.Kid, result.Plaintext)
		return output.Render(cmd.OutOrStdout(), outputFormat, result, table)
	},
}

func init() {
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decipherCmd)

	encodeCmd.Flags().String("kid", "", "Key id")
	encodeCmd.Flags().String("key", "", "26-letter substitution alphabet")
	encodeCmd.Flags().Bool("event", false, "Print a complete dark signal event")

	decipherCmd.Flags().StringArray("key", nil, "Key as kid=alphabet (repeatable)")
	decipherCmd.Flags().String("keys-file", "", "Local key document (XML)")
	decipherCmd.Flags().String("keys-url", "", "Key document URL (default from config)")
	decipherCmd.Flags().Duration("timeout", 10*time.Second, "Key fetch timeout")
}

// payloadData accepts a raw payload or a dark signal event.
func payloadData(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if !strings.HasPrefix(arg, "{") {
		return arg, nil
	}
	event, _, err := models.DecodeEvent([]byte(arg))
	if err != nil {
		return "", err
	}
	if event.OriginalPayload == nil || event.OriginalPayload.Data == "" {
		return "", fmt.Errorf("%w: event has no originalPayload.data", cipher.ErrMalformedPayload)
	}
	return event.OriginalPayload.Data, nil
}

func loadKeys(cmd *cobra.Command) (cipher.KeySet, error) {
	inline, _ := cmd.Flags().GetStringArray("key")
	file, _ := cmd.Flags().GetString("keys-file")
	url, _ := cmd.Flags().GetString("keys-url")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	keySet := cipher.KeySet{}
	for _, kv := range inline {
		kid, alphabet, ok := strings.Cut(kv, "=")
		if !ok || kid == "" {
			return nil, fmt.Errorf("invalid --key %q, want kid=alphabet", kv)
		}
		keySet[kid] = alphabet
	}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read key document: %w", err)
		}
		parsed, duplicates, err := keys.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse key document: %w", err)
		}
		for _, kid := range duplicates {
			output.Warn("Duplicate key id %s in %s, keeping first", kid, file)
		}
		mergeKeys(keySet, parsed)
	}

	if url == "" && len(inline) == 0 && file == "" {
		url = cfg.Keys.URL
	}
	if url != "" {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		fetched, err := keys.NewProvider(url, timeout, logging.Discard()).Fetch(ctx)
		if err != nil {
			return nil, err
		}
		mergeKeys(keySet, fetched)
	}

	return keySet, nil
}

// mergeKeys adds src to dst without replacing keys dst already has.
func mergeKeys(dst, src cipher.KeySet) {
	for kid, alphabet := range src {
		if _, ok := dst[kid]; !ok {
			dst[kid] = alphabet
		}
	}
}
