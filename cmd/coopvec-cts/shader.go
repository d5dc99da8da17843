package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-coopvec/internal/cases"
	"github.com/23skdu/longbow-coopvec/internal/coopvec"
	"github.com/23skdu/longbow-coopvec/internal/device"
	"github.com/23skdu/longbow-coopvec/internal/reference"
	"github.com/23skdu/longbow-coopvec/internal/shader"
)

func shaderHandler(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	root, _ := cases.All()
	n := root.Find(args[0])
	if n == nil || !n.IsLeaf() {
		return fmt.Errorf("no case named %q", args[0])
	}
	d, ok := n.Case.(cases.Definition)
	if !ok {
		return fmt.Errorf("case %q is a %v case and has no program", args[0], n.Case.Kind())
	}

	emu := device.NewEmulator()
	defer emu.Close()
	plan, err := reference.NewPlan(d, func(c coopvec.Conversion) (int, error) {
		return emu.ConvertMatrixLayout(cmd.Context(), device.MatrixConversion{Conversion: c})
	})
	if err != nil {
		return err
	}
	p := shader.Synthesize(d)
	p.Specialize(d, plan.MemoryLayout())

	out := cmd.OutOrStdout()
	for _, src := range p.Sources() {
		fmt.Fprintf(out, "// %s.%s\n%s\n", src.Name, src.Stage, src.Text)
	}
	fmt.Fprintf(out, "// specialization constants: %v\n", p.SpecConstants)
	return nil
}
