package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/cantus/pkg/ccf"
)

func inspectCmd() *cli.Command {
	var (
		path         string
		showAll      bool
		showSections bool
		showWeights  bool
		showRaw      bool
		weightLimit  int
		weightFilter string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of a .ccf model container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .ccf file",
				Destination: &path,
				Required:    true,
			},
			&cli.BoolFlag{Name: "all", Usage: "show all sections and weights", Destination: &showAll},
			&cli.BoolFlag{Name: "sections", Usage: "show section directory", Destination: &showSections},
			&cli.BoolFlag{Name: "weights", Usage: "list the weight index", Destination: &showWeights},
			&cli.BoolFlag{Name: "raw", Usage: "print raw metadata payloads", Destination: &showRaw},
			&cli.IntFlag{Name: "weights-limit", Usage: "limit weight listing (0 = no limit)", Value: 50, Destination: &weightLimit},
			&cli.StringFlag{Name: "weight-filter", Usage: "substring filter for weight listing", Destination: &weightFilter},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_ = ctx

			if showAll {
				showSections = true
				showWeights = true
				showRaw = true
				if weightLimit == 50 {
					weightLimit = 0
				}
			}

			stat, err := os.Stat(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat model path %q: %v", path, err), 1)
			}
			if stat.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".ccf") {
				return cli.Exit("error: cantus inspect only supports .ccf files", 1)
			}

			f, err := ccf.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open ccf: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			fmt.Printf("CCF Inspect: %s\n", path)
			fmt.Printf("File: %s (%s)\n", filepath.Base(path), formatBytes(uint64(stat.Size())))
			printHeader(f.Header)

			miBytes := sectionData(f, ccf.SectionModelInfo)
			ciBytes := sectionData(f, ccf.SectionCodecInfo)
			wiBytes := sectionData(f, ccf.SectionWeightIndex)

			printModelSummary(miBytes, ciBytes)

			if showSections {
				printSectionDirectory(f.Sections)
			}
			if showWeights {
				printWeightIndex(wiBytes, weightFilter, weightLimit)
			}
			if showRaw {
				printRawSection("Model Info", miBytes)
				printRawSection("Codec Info", ciBytes)
			}
			return nil
		},
	}
}

func sectionData(f *ccf.File, t ccf.SectionType) []byte {
	s := f.Section(t)
	if s == nil {
		return nil
	}
	return f.SectionData(s)
}

func printHeader(h *ccf.Header) {
	if h == nil {
		return
	}
	flags := []string{}
	if h.Flags&ccf.FlagWeightDataAligned64 != 0 {
		flags = append(flags, "weight_data_aligned64")
	}
	flagStr := "none"
	if len(flags) > 0 {
		flagStr = strings.Join(flags, ", ")
	}
	fmt.Printf("CCF Header: v%d.%d sections=%d header=%dB flags=%s\n",
		h.Major, h.Minor, h.SectionCount, h.HeaderSize, flagStr)
}

func printModelSummary(miBytes, ciBytes []byte) {
	fmt.Println()
	fmt.Println("== Model ==")
	mi, err := ccf.ParseModelInfo(miBytes)
	if err != nil {
		fmt.Printf("  (model info unavailable: %v)\n", err)
	} else {
		fmt.Printf("  name:        %s\n", mi.Name)
		fmt.Printf("  arch:        %s\n", mi.Arch)
		fmt.Printf("  input_width: %d\n", mi.InputWidth)
		fmt.Printf("  hidden_size: %d\n", mi.HiddenSize)
		fmt.Printf("  num_classes: %d\n", mi.NumClasses)
		if mi.BatchSize > 0 {
			fmt.Printf("  batch_size:  %d\n", mi.BatchSize)
		}
		for k, v := range mi.Extras {
			fmt.Printf("  extras.%s: %s\n", k, v)
		}
	}

	ci, err := ccf.ParseCodecInfo(ciBytes)
	if err != nil {
		fmt.Printf("  (codec info unavailable: %v)\n", err)
		return
	}
	fmt.Printf("  codec:       %s\n", ci.Kind)
	if ci.Kind == ccf.CodecMelodyOneHot {
		fmt.Printf("  note_range:  [%d, %d]\n", ci.MinNote, ci.MaxNote)
	}
}

func printSectionDirectory(sections []ccf.Section) {
	fmt.Println()
	fmt.Println("== Sections ==")
	for _, s := range sections {
		fmt.Printf("  %-12s v%d off=%d size=%s\n",
			sectionTypeName(ccf.SectionType(s.Type)), s.Version, s.Offset, formatBytes(s.Size))
	}
}

func printWeightIndex(wiBytes []byte, filter string, limit int) {
	fmt.Println()
	fmt.Println("== Weights ==")
	wi, err := ccf.ParseWeightIndex(wiBytes)
	if err != nil {
		fmt.Printf("  (weight index unavailable: %v)\n", err)
		return
	}
	shown := 0
	var total uint64
	for i := 0; i < wi.Count(); i++ {
		rec := wi.Record(i)
		total += rec.DataSize
		if filter != "" && !strings.Contains(rec.Name, filter) {
			continue
		}
		if limit > 0 && shown >= limit {
			continue
		}
		fmt.Printf("  %-12s dtype=%s shape=%s size=%s\n",
			rec.Name, rec.DType, formatShape(rec.Shape), formatBytes(rec.DataSize))
		shown++
	}
	fmt.Printf("  total: %d weights, %s\n", wi.Count(), formatBytes(total))
}

func printRawSection(title string, data []byte) {
	fmt.Println()
	fmt.Printf("== %s (raw) ==\n", title)
	if len(data) == 0 {
		fmt.Println("  (absent)")
		return
	}
	fmt.Println(strings.TrimRight(string(data), "\n"))
}

func sectionTypeName(t ccf.SectionType) string {
	switch t {
	case ccf.SectionModelInfo:
		return "ModelInfo"
	case ccf.SectionCodecInfo:
		return "CodecInfo"
	case ccf.SectionWeightIndex:
		return "WeightIndex"
	case ccf.SectionWeightData:
		return "WeightData"
	default:
		return fmt.Sprintf("Section0x%04x", uint32(t))
	}
}

func formatShape(shape []uint64) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, "x") + "]"
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
