// Copyright © 2025-2026 Bonsai Bio <dev@bonsai.bio>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/util/pathutil"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"

	"github.com/bonsai-bio/seqfilt/seqfilt/cmd/kv"
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Filter reads against reference sequence databases",
	Long: `Filter reads against reference sequence databases

Attention:
  1. Input should be (gzipped) FASTA or FASTQ records from files or stdin.
  2. Each reference file given with -d/--ref is treated as one database,
     searched one after another. Big databases are split into partitions
     of -b/--batch-size sequences each.
  3. For multiple input files, the order of reads in output might be
     different from the input.

How it works:
  Every read is scanned with sliding windows in up to three passes of
  decreasing stride (-p/--passes). For each unvisited window, one half
  is matched exactly in a lookup table and the other half is matched
  with at most one mismatch or indel in a trie. Matched windows of one
  reference are chained, and a read is reported once a chain score
  reaches -c/--min-chain-score.

  Search state of every read is kept in a persistent store, so results
  accumulate across database partitions, and a killed run can be
  resumed with the same --state-file.

Output format:
  Tab-delimited format with 3 columns:

    1. read,   Read ID.
    2. db,     Database the read first matched ("*" for reads flagged
               by --denovo, reported after the last database).
    3. score,  The best chain score so far.

`,
	Run: func(cmd *cobra.Command, args []string) {
		if optFile := getFlagString(cmd, "opt-file"); optFile != "" {
			checkError(applyOptFile(cmd, optFile))
		}

		opt := getOptions(cmd)
		seq.ValidateSeq = false

		outFile := getFlagString(cmd, "out-file")

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}

		outputLog := opt.Verbose || opt.Log2File

		timeStart := time.Now()
		defer func() {
			if outputLog {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		var err error

		// ---------------------------------------------------------------
		// options

		window := getFlagPositiveInt(cmd, "window")

		dbOpt := &DatabaseOptions{
			NumCPUs: opt.NumCPUs,
			Verbose: opt.Verbose,

			WindowLen: window,
			BatchSize: getFlagPositiveInt(cmd, "batch-size"),
		}
		checkError(CheckDatabaseOptions(dbOpt))

		searchOpt := &SearchOptions{
			SkipLengths:        parsePasses(getFlagString(cmd, "passes"), window),
			MinSeedOccurrences: getFlagNonNegativeInt(cmd, "min-seed-occ"),
			MinSeedHits:        getFlagPositiveInt(cmd, "min-seed-hits"),
			NumAlignments:      getFlagInt(cmd, "num-alignments"),
			Best:               getFlagBool(cmd, "best"),
			MinChainScore:      getFlagNonNegativeFloat64(cmd, "min-chain-score"),
			MaxGap:             getFlagNonNegativeFloat64(cmd, "max-gap"),
			Denovo:             getFlagBool(cmd, "denovo"),
		}
		checkError(CheckSearchOptions(searchOpt))

		plOpt := &PipelineOptions{
			NumCPUs:   opt.NumCPUs,
			IOWorkers: getFlagPositiveInt(cmd, "io-workers"),
			QueueSize: getFlagPositiveInt(cmd, "queue-size"),
		}
		checkError(CheckPipelineOptions(plOpt))

		// ---------------------------------------------------------------
		// reference databases

		refFiles := getFlagStringSlice(cmd, "ref")
		if refDir := getFlagString(cmd, "ref-dir"); refDir != "" {
			pattern, err := regexp.Compile(getFlagString(cmd, "ref-regexp"))
			if err != nil {
				checkError(fmt.Errorf("failed to compile regular expression for matching reference files: %s", err))
			}
			files, err := getFileListFromDir(refDir, pattern, opt.NumCPUs)
			checkError(err)
			refFiles = append(refFiles, files...)
		}
		if len(refFiles) == 0 {
			checkError(fmt.Errorf("flag -d/--ref or --ref-dir needed"))
		}
		for _, file := range refFiles {
			if ok, err := pathutil.Exists(file); err != nil || !ok {
				checkError(fmt.Errorf("reference file not found: %s", file))
			}
		}

		// ---------------------------------------------------------------
		// input reads

		readFiles := getFileListFromArgsAndFile(cmd, args, true, "read-file", true)

		// ---------------------------------------------------------------
		// read-state store

		stateFile := getFlagString(cmd, "state-file")
		tmpState := stateFile == ""
		if tmpState {
			fh, err := os.CreateTemp("", "seqfilt-state-*")
			checkError(err)
			stateFile = fh.Name()
			fh.Close()
		}

		var store *kv.Store
		existed, err := pathutil.Exists(stateFile)
		checkError(err)
		resumed := existed && !tmpState
		if resumed {
			store, err = kv.Open(stateFile)
			checkError(err)
			if outputLog {
				log.Infof("resuming from state file with %d reads: %s", store.Size(), stateFile)
			}
		} else {
			store, err = kv.New(stateFile)
			checkError(err)
		}

		// ---------------------------------------------------------------
		// output

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		// ---------------------------------------------------------------
		// filtering

		stats := NewReadStats()
		pipeline := NewPipeline(plOpt, searchOpt, store, stats, outfh)

		dbNames := make([]string, 0, len(refFiles))
		countReads := !resumed
		for _, refFile := range refFiles {
			name := dbName(refFile)
			dbNames = append(dbNames, name)

			if outputLog {
				log.Infof("loading database: %s", refFile)
			}
			db, err := BuildDatabase(name, []string{refFile}, dbOpt)
			checkError(err)
			if outputLog {
				log.Infof("  %d sequences (%d bases) in %d partition(s)",
					db.NumRefs, db.NumBases, len(db.Partitions))
			}

			for _, p := range db.Partitions {
				if outputLog {
					log.Infof("  searching partition %d/%d of database: %s",
						p.Index+1, len(db.Partitions), name)
				}
				checkError(pipeline.RunPartition(readFiles, p, countReads))
				countReads = false
			}
		}

		// reads with seeds but no accepted alignment anywhere
		store.Each(func(id string, state *kv.ReadState) {
			if state.Hit || !state.HitDenovo {
				return
			}
			stats.MarkDenovo()
			if searchOpt.Denovo {
				fmt.Fprintf(outfh, "%s\t*\t%.2f\n", id, state.MaxScore)
			}
		})

		checkError(store.Close())
		if tmpState {
			os.Remove(stateFile)
		}

		if outputLog {
			log.Info()
			stats.Report(dbNames)
			log.Info()
			log.Infof("done filtering")
			if outFile != "-" {
				log.Infof("results saved to: %s", outFile)
			}
		}
	},
}

// parsePasses parses up to three comma-separated window shifts.
// An empty value derives them from the window length, like "18,9,3"
// for a window of 18. Missing values repeat the last one.
func parsePasses(s string, window int) [3]int {
	var shifts [3]int
	if s == "" {
		shifts[0] = window
		shifts[1] = window >> 1
		shifts[2] = 3
		return shifts
	}

	fields := strings.Split(s, ",")
	if len(fields) > 3 {
		checkError(fmt.Errorf("invalid value of flag -p/--passes: %s, at most 3 window shifts", s))
	}
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || v < 1 {
			checkError(fmt.Errorf("invalid window shift in flag -p/--passes: %s", f))
		}
		shifts[i] = v
	}
	for i := len(fields); i < 3; i++ {
		shifts[i] = shifts[i-1]
	}
	return shifts
}

// dbName derives a database name from a reference file path.
func dbName(file string) string {
	name := filepath.Base(file)
	name = strings.TrimSuffix(name, ".gz")
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}

// applyOptFile sets flag values from a TOML file, the command line
// takes precedence.
func applyOptFile(cmd *cobra.Command, file string) error {
	file, err := homedir.Expand(file)
	if err != nil {
		return err
	}
	fh, err := xopen.Ropen(file)
	if err != nil {
		return fmt.Errorf("failed to read option file: %s: %s", file, err)
	}
	data, err := io.ReadAll(fh)
	if err != nil {
		return fmt.Errorf("failed to read option file: %s: %s", file, err)
	}
	if err = fh.Close(); err != nil {
		return err
	}

	var values map[string]interface{}
	if err = toml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse option file: %s: %s", file, err)
	}

	flags := cmd.Flags()
	for key, value := range values {
		f := flags.Lookup(key)
		if f == nil {
			return fmt.Errorf("unknown option in %s: %s", file, key)
		}
		if f.Changed { // set on the command line
			continue
		}

		switch v := value.(type) {
		case []interface{}:
			items := make([]string, len(v))
			for i, item := range v {
				items[i] = fmt.Sprintf("%v", item)
			}
			err = flags.Set(key, strings.Join(items, ","))
		default:
			err = flags.Set(key, fmt.Sprintf("%v", v))
		}
		if err != nil {
			return fmt.Errorf("invalid value for option %s in %s: %s", key, file, err)
		}
	}
	return nil
}

func init() {
	RootCmd.AddCommand(filterCmd)

	filterCmd.Flags().StringSliceP("ref", "d", []string{},
		formatFlagUsage(`Reference FASTA file(s), each one database. Can be set multiple times.`))
	filterCmd.Flags().StringP("ref-dir", "D", "",
		formatFlagUsage(`Directory containing reference FASTA files, collected recursively.`))
	filterCmd.Flags().StringP("ref-regexp", "", `(?i)\.(f[aq](st[aq])?|fna)(.gz)?$`,
		formatFlagUsage(`Regular expression for matching reference files in --ref-dir, case ignored.`))

	filterCmd.Flags().StringP("read-file", "X", "",
		formatFlagUsage(`A file containing paths of input read files, one per line.`))

	filterCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports the ".gz" suffix ("-" for stdout).`))
	filterCmd.Flags().StringP("opt-file", "", "",
		formatFlagUsage(`A TOML file with default values of these options, the command line takes precedence.`))

	filterCmd.Flags().IntP("window", "w", 18,
		formatFlagUsage(`Window size, even, in range [8, 20].`))
	filterCmd.Flags().StringP("passes", "p", "",
		formatFlagUsage(`Comma-separated window shifts of up to three scanning passes, e.g., "18,9,3". Default: window, window/2, 3.`))
	filterCmd.Flags().IntP("batch-size", "b", 4096,
		formatFlagUsage(`Maximum number of reference sequences per database partition.`))

	filterCmd.Flags().IntP("num-alignments", "n", -1,
		formatFlagUsage(`Stop searching a read after this many accepted alignments, negative for unlimited.`))
	filterCmd.Flags().BoolP("best", "", false,
		formatFlagUsage(`Only track the best-scoring alignment of each read. The reverse complement is skipped once a read reaches the minimum chain score.`))
	filterCmd.Flags().Float64P("min-chain-score", "c", 40,
		formatFlagUsage(`Minimum chain score for accepting an alignment.`))
	filterCmd.Flags().Float64P("max-gap", "", 5000,
		formatFlagUsage(`Maximum gap between chained seeds.`))
	filterCmd.Flags().IntP("min-seed-hits", "", 2,
		formatFlagUsage(`Minimum number of seed hits on one reference before chaining.`))
	filterCmd.Flags().IntP("min-seed-occ", "", 0,
		formatFlagUsage(`Skip lookups of half-window codes occurring fewer times than this in a partition, 0 for no filtering.`))
	filterCmd.Flags().BoolP("denovo", "", false,
		formatFlagUsage(`Also report reads with seed hits but no accepted alignment.`))

	filterCmd.Flags().IntP("io-workers", "", 1,
		formatFlagUsage(`Number of reader and writer workers, each.`))
	filterCmd.Flags().IntP("queue-size", "", 1024,
		formatFlagUsage(`Capacity of the queues between pipeline stages.`))
	filterCmd.Flags().StringP("state-file", "", "",
		formatFlagUsage(`File for the persistent read-state store. An existing one is resumed from, default: a temporary file.`))

	filterCmd.SetUsageTemplate(usageTemplate("[flags] -d <ref.fasta> [read.fq.gz ...]"))
}
