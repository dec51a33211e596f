// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "List stored reports, or show one by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if remove && len(args) == 0 {
				return fmt.Errorf("--delete needs a report id")
			}

			st, err := a.requireStore()
			if err != nil {
				return err
			}
			defer st.Close()

			render, err := a.renderer()
			if err != nil {
				return err
			}

			if len(args) == 0 {
				items, err := st.List(ctx, limit)
				if err != nil {
					return err
				}
				return render.RenderHistory(items)
			}

			if remove {
				if err := st.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "deleted %s\n", args[0])
				return nil
			}
			doc, err := st.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return render.Render(doc)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of reports to list")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the report instead of showing it")
	return cmd
}
