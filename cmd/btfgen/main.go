// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command btfgen encodes the DWARF debug info of an object file as
// BTF. By default the blob is written next to the object with a
// ".btf" suffix; -o selects another path and --in-place appends a
// .BTF section to the object itself.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/btfkit/go-btf/btf"
	"github.com/btfkit/go-btf/btfencoder"
	"github.com/btfkit/go-btf/dwarfcu"
	"github.com/btfkit/go-btf/internal/elfwriter"
)

var (
	flagOutput   string
	flagInPlace  bool
	flagVerbose  bool
	flagForce    bool
	flagSkipVars bool
	flagBaseID   uint32
)

func main() {
	cmd := &cobra.Command{
		Use:           "btfgen <object>",
		Short:         "encode an object file's debug info as BTF",
		Args:          cobra.ExactArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "write the detached blob to `file`")
	cmd.Flags().BoolVar(&flagInPlace, "in-place", false, "append a .BTF section to the object")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "per-symbol diagnostics")
	cmd.Flags().BoolVar(&flagForce, "force", false, "warn instead of failing on bad per-CPU symbols")
	cmd.Flags().BoolVar(&flagSkipVars, "skip-encoding-vars", false, "do not encode per-CPU variables")
	cmd.Flags().Uint32Var(&flagBaseID, "base-id", 0, "first type `ID` (for appending to a base BTF)")

	if err := cmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagVerbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	loader, err := dwarfcu.Load(args[0])
	if err != nil {
		return err
	}
	defer loader.Close()

	enc := &btfencoder.Encoder{
		Verbose:  flagVerbose,
		Force:    flagForce,
		SkipVars: flagSkipVars,
		BaseID:   btf.TypeID(flagBaseID),
		Emit:     emit,
	}

	for {
		cu, err := loader.Next()
		if err != nil {
			return err
		}
		if cu == nil {
			break
		}
		if err := enc.EncodeCU(cu); err != nil {
			return err
		}
	}
	return enc.Finalize()
}

func emit(filename string, blob []byte) error {
	switch {
	case flagInPlace:
		return elfwriter.AddSection(filename, ".BTF", blob)
	case flagOutput != "":
		return os.WriteFile(flagOutput, blob, 0666)
	default:
		return os.WriteFile(filename+".btf", blob, 0666)
	}
}
