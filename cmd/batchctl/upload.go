package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ignite/batch-mailer/internal/service/batch"
	"github.com/spf13/cobra"
)

var requiredColumns = []string{"name", "email", "designation", "company"}

// readRecipients parses a CSV whose header names the columns Name, Email,
// Designation and Company in any order and case. Extra columns are ignored.
func readRecipients(r io.Reader) ([]batch.RecipientInput, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("csv header is missing column %q", col)
		}
	}

	field := func(rec []string, col string) string {
		if i := index[col]; i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var out []batch.RecipientInput
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := batch.RecipientInput{
			Name:        field(rec, "name"),
			Email:       field(rec, "email"),
			Designation: field(rec, "designation"),
			Company:     field(rec, "company"),
		}
		if row == (batch.RecipientInput{}) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func newUploadCmd(root *rootOptions) *cobra.Command {
	var (
		file        string
		batchID     string
		senderName  string
		senderEmail string
	)
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Create a batch from a CSV of recipients",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			recipients, err := readRecipients(f)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}

			res, err := root.client().CreateBatch(cmd.Context(), batch.CreateInput{
				BatchID:     batchID,
				SenderName:  senderName,
				SenderEmail: senderEmail,
				Recipients:  recipients,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batch %s created: %d recipients, %d skipped\n",
				res.BatchID, res.TotalEmails, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV file with Name, Email, Designation, Company columns")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "batch id (generated when empty)")
	cmd.Flags().StringVar(&senderName, "sender-name", "", "sender full name")
	cmd.Flags().StringVar(&senderEmail, "sender-email", "", "sender address")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("sender-name")
	_ = cmd.MarkFlagRequired("sender-email")
	return cmd
}
