package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"forwardnet/config"
	"forwardnet/core/state"
	"forwardnet/native/factory"
	"forwardnet/runtime"
	"forwardnet/storage"
	"forwardnet/storage/trie"
)

// auditRow flattens one deployment saga plus the books of its market, if it
// completed. Amounts stay decimal strings so nothing loses precision.
type auditRow struct {
	DeployID        int64  `parquet:"name=deploy_id, type=INT64"`
	DedupeKey       string `parquet:"name=dedupe_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	Creator         string `parquet:"name=creator, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status          string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Cursor          string `parquet:"name=cursor, type=BYTE_ARRAY, convertedtype=UTF8"`
	MarketID        string `parquet:"name=market_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	LongID          string `parquet:"name=long_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ShortID         string `parquet:"name=short_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Underlying      string `parquet:"name=underlying, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quote           string `parquet:"name=quote, type=BYTE_ARRAY, convertedtype=UTF8"`
	Maturity        int64  `parquet:"name=maturity, type=INT64"`
	Strike          string `parquet:"name=strike, type=BYTE_ARRAY, convertedtype=UTF8"`
	Lower           string `parquet:"name=lower, type=BYTE_ARRAY, convertedtype=UTF8"`
	Upper           string `parquet:"name=upper, type=BYTE_ARRAY, convertedtype=UTF8"`
	MintFeeBps      int32  `parquet:"name=mint_fee_bps, type=INT32"`
	SettleFeeBps    int32  `parquet:"name=settle_fee_bps, type=INT32"`
	RedeemFeeBps    int32  `parquet:"name=redeem_fee_bps, type=INT32"`
	Settled         bool   `parquet:"name=settled, type=BOOLEAN"`
	TotalCollateral string `parquet:"name=total_collateral, type=BYTE_ARRAY, convertedtype=UTF8"`
	LongSupply      string `parquet:"name=long_supply, type=BYTE_ARRAY, convertedtype=UTF8"`
	ShortSupply     string `parquet:"name=short_supply, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt       string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	UpdatedAt       string `parquet:"name=updated_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	StateRoot       string `parquet:"name=state_root, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type auditSummary struct {
	StateRoot string         `json:"stateRoot"`
	Rows      int            `json:"rows"`
	ByStatus  map[string]int `json:"byStatus"`
	Output    string         `json:"output"`
}

func main() {
	configPath := flag.String("config", "./config.toml", "Path to node configuration file")
	outPath := flag.String("out", "./forward-audit.parquet", "Path for the parquet report")
	status := flag.String("status", "", "Filter deployments by status (in-flight, complete, stalled)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// The exporter opens the store directly; run it against a stopped
	// daemon or a copy of the data directory.
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	rt := runtime.New(state.NewManager(db))
	mirror, err := trie.NewMirror(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load state mirror: %v\n", err)
		os.Exit(1)
	}
	rt.UseMirror(mirror)
	if err := rt.Resume(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to resume runtime: %v\n", err)
		os.Exit(1)
	}

	root, err := rt.StateRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read state root: %v\n", err)
		os.Exit(1)
	}

	rows, err := collectRows(rt, *status, root.Hex())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to collect deployments: %v\n", err)
		os.Exit(1)
	}

	if err := writeParquet(*outPath, rows); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
		os.Exit(1)
	}

	summary := auditSummary{
		StateRoot: root.Hex(),
		Rows:      len(rows),
		ByStatus:  map[string]int{},
		Output:    *outPath,
	}
	for _, row := range rows {
		summary.ByStatus[row.Status]++
	}
	output, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode summary: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}

func collectRows(rt *runtime.Runtime, status, root string) ([]*auditRow, error) {
	var rows []*auditRow
	err := rt.Do(func() error {
		orchestrator, ok := rt.Factory(runtime.DefaultFactoryID)
		if !ok {
			return fmt.Errorf("factory instance not provisioned")
		}
		records, err := orchestrator.Deployments(status)
		if err != nil {
			return err
		}
		for _, rec := range records {
			row := rowFromRecord(rec, root)
			if rec.Status == factory.StatusComplete && rec.MarketID != "" {
				if engine, ok := rt.Market(rec.MarketID); ok {
					st, err := engine.State()
					if err != nil {
						return err
					}
					row.Settled = st.Settled
					row.TotalCollateral = st.TotalCollateral.String()
					row.LongSupply = st.LongSupply.String()
					row.ShortSupply = st.ShortSupply.String()
				}
			}
			rows = append(rows, row)
		}
		return nil
	})
	return rows, err
}

func rowFromRecord(rec factory.DeploymentRecord, root string) *auditRow {
	return &auditRow{
		DeployID:     int64(rec.ID),
		DedupeKey:    rec.Key,
		Creator:      rec.Creator,
		Status:       rec.Status,
		Cursor:       rec.Cursor,
		MarketID:     rec.MarketID,
		LongID:       rec.LongID,
		ShortID:      rec.ShortID,
		Underlying:   rec.Params.Underlying,
		Quote:        rec.Params.Quote,
		Maturity:     rec.Params.Maturity,
		Strike:       rec.Params.Strike.String(),
		Lower:        rec.Params.Lower.String(),
		Upper:        rec.Params.Upper.String(),
		MintFeeBps:   int32(rec.Params.MintFeeBps),
		SettleFeeBps: int32(rec.Params.SettleFeeBps),
		RedeemFeeBps: int32(rec.Params.RedeemFeeBps),
		CreatedAt:    formatUnix(rec.CreatedAt),
		UpdatedAt:    formatUnix(rec.UpdatedAt),
		StateRoot:    root,
	}
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func writeParquet(path string, rows []*auditRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(auditRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}
