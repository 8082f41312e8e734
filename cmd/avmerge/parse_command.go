package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/avmerge/internal/identity"
	"github.com/John-Robertt/avmerge/internal/scan"
)

// newParseCommand 用于排查“为什么这个文件是 unmatched / 被归到了别的编号”。
func newParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <name>...",
		Short: "打印文件名解析出的 identity（不访问网络、不读写文件）",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(args))
			for _, a := range args {
				rows = append(rows, parseRow(a))
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"input", "kind", "key", "part", "error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func parseRow(input string) []string {
	base := filepath.Base(input)
	if ext := strings.ToLower(filepath.Ext(base)); scan.IsVideoExt(ext) {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	id, err := identity.Parse(base)
	if err != nil {
		return []string{input, "", "", "", err.Error()}
	}
	return []string{input, id.Kind.String(), id.Key(), fmt.Sprint(id.Part), ""}
}
