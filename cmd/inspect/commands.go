package inspect

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ValentinKolb/fxstore/cmd/util"
	"github.com/ValentinKolb/fxstore/lib/store/meta"
	"github.com/spf13/cobra"
)

var (
	// InspectCmd prints the superblock and both header slots of a file
	// without opening it as a store, so it also works on damaged files.
	InspectCmd = &cobra.Command{
		Use:   "inspect [file]",
		Short: "Print the superblock and both commit header slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(args[0])
		},
	}

	// LsCmd lists the collections of a store
	LsCmd = &cobra.Command{
		Use:   "ls [file]",
		Short: "List all collections of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := util.OpenStore(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			infos, err := s.List()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("no collections")
				return nil
			}
			fmt.Printf("%-6s %-6s %-10s %-24s %-24s %s\n", "ID", "KIND", "COUNT", "KEY CODEC", "VALUE CODEC", "NAME")
			for _, info := range infos {
				key := "-"
				if info.KeyCodec != "" {
					key = fmt.Sprintf("%s@v%d", info.KeyCodec, info.KeyVersion)
				}
				value := fmt.Sprintf("%s@v%d", info.ValueCodec, info.ValueVersion)
				fmt.Printf("%-6d %-6s %-10d %-24s %-24s %s\n", info.ID, info.Kind, info.Count, key, value, info.Name)
			}
			return nil
		},
	}

	// DumpCmd prints the encoded contents of one collection as hex
	DumpCmd = &cobra.Command{
		Use:   "dump [file] [collection]",
		Short: "Print the raw encoded keys and values of a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			s, err := util.OpenStore(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			n := 0
			err = s.ScanRaw(args[1], func(key, value []byte) bool {
				switch {
				case key == nil:
					fmt.Printf("[%d] %s\n", n, hex.EncodeToString(value))
				case value == nil:
					fmt.Println(hex.EncodeToString(key))
				default:
					fmt.Printf("%s => %s\n", hex.EncodeToString(key), hex.EncodeToString(value))
				}
				n++
				return limit <= 0 || n < limit
			})
			if err != nil {
				return err
			}
			fmt.Printf("(%d entries)\n", n)
			return nil
		},
	}
)

func init() {
	DumpCmd.Flags().Int("limit", 0, util.WrapString("Stop after this many entries (0 = all)"))
}

func inspect(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	blocks := make([]byte, meta.DataOffset)
	if _, err := io.ReadFull(f, blocks); err != nil {
		return fmt.Errorf("file too small for a store (%d bytes): %w", info.Size(), err)
	}

	fmt.Printf("file:           %s (%s)\n", path, util.FormatBytes(info.Size()))
	sb, err := meta.DecodeSuperblock(blocks[meta.SuperblockOffset:meta.SlotAOffset])
	if err != nil {
		fmt.Printf("superblock:     INVALID (%v)\n", err)
	} else {
		fmt.Printf("store id:       %s\n", sb.StoreID)
		fmt.Printf("format version: %d\n", sb.FormatVersion)
		fmt.Printf("page size:      %d\n", sb.PageSize)
		fmt.Printf("created:        %s\n", formatMillis(sb.CreatedAtMs))
		fmt.Printf("feature flags:  %#x\n", sb.FeatureFlags)
	}

	slotA := blocks[meta.SlotAOffset:meta.SlotBOffset]
	slotB := blocks[meta.SlotBOffset:meta.DataOffset]
	printSlot(meta.SlotA, slotA)
	printSlot(meta.SlotB, slotB)

	sel, err := meta.SelectHeader(slotA, slotB)
	if err != nil {
		fmt.Printf("active slot:    none (%v)\n", err)
		return nil
	}
	fmt.Printf("active slot:    %s (seq %d)\n", sel.Slot, sel.Header.SeqNo)
	if sel.Fallback {
		fmt.Printf("warning:        slot %s was rejected, the store falls back to an older commit\n", otherSlot(sel.Slot))
	}
	return nil
}

func printSlot(slot meta.Slot, b []byte) {
	if meta.IsBlank(b) {
		fmt.Printf("slot %s:         blank\n", slot)
		return
	}
	h, err := meta.DecodeHeader(b)
	if err != nil {
		fmt.Printf("slot %s:         INVALID (%v)\n", slot, err)
		return
	}
	sync := ""
	if h.CommittedFlags&meta.FlagSync != 0 {
		sync = ", sync"
	}
	fmt.Printf("slot %s:         seq %d, tail %d, catalog root %d, state root %d, next id %d, committed %s%s\n",
		slot, h.SeqNo, h.AllocTail, h.CatalogRootPageID, h.StateRootPageID, h.NextCollectionID, formatMillis(h.CommitEpochMs), sync)
}

func otherSlot(s meta.Slot) meta.Slot {
	if s == meta.SlotA {
		return meta.SlotB
	}
	return meta.SlotA
}

func formatMillis(ms uint64) string {
	return time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339)
}
