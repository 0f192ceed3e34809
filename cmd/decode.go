package cmd

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/sms-bridge/content"
	"github.com/dhcgn/sms-bridge/envelope"
	"github.com/dhcgn/sms-bridge/layout"
)

// NewDecodeCommand prints the fields of a base64 payload and, when a
// plaintext is given, the email content extracted from it.
func NewDecodeCommand() *cobra.Command {
	var (
		plaintext   string
		format      string
		imageLength int
	)

	decodeCmd := &cobra.Command{
		Use:   "decode [base64 content]",
		Short: "Decode a payload and print its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			env, err := envelope.Decode(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("decode envelope: %w", err)
			}
			printEnvelope(out, env)

			if plaintext == "" {
				return nil
			}

			pt, err := decodePlaintext(plaintext)
			if err != nil {
				return err
			}
			f := content.Bitmap
			switch {
			case format != "":
				if f, err = content.ParseFormat(format); err != nil {
					return err
				}
			case env.Header().Version == envelope.LegacyVersion:
				f = content.Delimited
			}
			extracted, err := content.Extract(content.EmailBridge, pt, content.Options{Format: f, ImageLength: imageLength})
			if err != nil {
				return fmt.Errorf("extract content: %w", err)
			}
			printEmail(out, extracted.(content.Email))
			return nil
		},
	}

	decodeCmd.Flags().StringVar(&plaintext, "plaintext", "", "Decrypted payload as hex or base64 (prefix hex: or base64:)")
	decodeCmd.Flags().StringVar(&format, "format", "", "Content format: delimited, fixed or bitmap (default by envelope version)")
	decodeCmd.Flags().IntVar(&imageLength, "image-length", 0, "Length of the image prefix in the plaintext")
	return decodeCmd
}

func decodePlaintext(value string) ([]byte, error) {
	switch {
	case strings.HasPrefix(value, "hex:"):
		b, err := hex.DecodeString(strings.TrimPrefix(value, "hex:"))
		if err != nil {
			return nil, fmt.Errorf("decode hex plaintext: %w", err)
		}
		return b, nil
	case strings.HasPrefix(value, "base64:"):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "base64:"))
		if err != nil {
			return nil, fmt.Errorf("decode base64 plaintext: %w", err)
		}
		return b, nil
	}
	return []byte(value), nil
}

func printEnvelope(w io.Writer, env envelope.Envelope) {
	h := env.Header()
	fmt.Fprintf(w, "type:    %T\n", env)
	fmt.Fprintf(w, "version: %s\n", h.Version)
	fmt.Fprintf(w, "shape:   %d\n", h.Shape)
	printRecord(w, h.Fields)
}

func printRecord(w io.Writer, rec layout.Record) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := rec[k].(type) {
		case []byte:
			fmt.Fprintf(w, "  %-20s %s (%d bytes)\n", k, hex.EncodeToString(v), len(v))
		case string:
			fmt.Fprintf(w, "  %-20s %q\n", k, v)
		default:
			fmt.Fprintf(w, "  %-20s %v\n", k, v)
		}
	}
}

func printEmail(w io.Writer, e content.Email) {
	fmt.Fprintln(w, "email:")
	fmt.Fprintf(w, "  to:      %q\n", e.To)
	fmt.Fprintf(w, "  cc:      %q\n", e.Cc)
	fmt.Fprintf(w, "  bcc:     %q\n", e.Bcc)
	fmt.Fprintf(w, "  subject: %q\n", e.Subject)
	fmt.Fprintf(w, "  body:    %q\n", e.Body)
	if len(e.Image) > 0 {
		fmt.Fprintf(w, "  image:   %d bytes\n", len(e.Image))
	}
}
