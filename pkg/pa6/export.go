package pa6

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/megaputer/pa6-go/pkg/asyncop"
)

// Compression levels accepted by ExportOptions.
var compressionLevels = map[string]int{
	"store":   0,
	"fastest": 1,
	"fast":    3,
	"normal":  5,
	"maximum": 7,
	"ultra":   9,
}

// ExportOptions configures Project.Export. Start from DefaultExportOptions;
// the zero value drops backups and macros.
type ExportOptions struct {
	// IDs lists the projects packed into one archive. Empty means the
	// exporting project alone.
	IDs                 []string `validate:"omitempty,dive,uuid"`
	CompressionLevel    string   `validate:"omitempty,oneof=store fastest fast normal maximum ultra"`
	KeepBackups         bool
	KeepMacrosAndVars   bool
	KeepSliceStatistics bool
	OverwriteExisting   bool
	Dicts               map[string]any
	UsedDicts           map[string]any
	UsedParsers         []string
}

// DefaultExportOptions mirrors the server's own defaults.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		CompressionLevel:  "normal",
		KeepBackups:       true,
		KeepMacrosAndVars: true,
	}
}

type exportRequest struct {
	FileName            string         `json:"fileName" validate:"required"`
	FileFormat          string         `json:"fileFormat" validate:"oneof=ps6 pa6 psar6 paar6 pagridar6"`
	IDs                 []string       `json:"ids"`
	CompressionLevel    int            `json:"compressionLevel"`
	KeepBackups         bool           `json:"keepBackups"`
	KeepMacrosAndVars   bool           `json:"keepMacrosAndVars"`
	KeepSliceStatistics bool           `json:"keepSliceStatistics"`
	OverwriteExisting   bool           `json:"overwriteExisting"`
	Dicts               map[string]any `json:"dicts"`
	UsedDicts           map[string]any `json:"usedDicts"`
	UsedParsers         []string       `json:"usedParsers"`
}

// newExportRequest validates opts and builds the wire payload. The file
// extension selects the project format.
func newExportRequest(projectUUID, fileName string, opts ExportOptions) (*exportRequest, error) {
	opts.CompressionLevel = strings.ToLower(opts.CompressionLevel)
	if opts.CompressionLevel == "" {
		opts.CompressionLevel = "normal"
	}

	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	req := &exportRequest{
		FileName:            fileName,
		FileFormat:          strings.ToLower(strings.TrimPrefix(path.Ext(fileName), ".")),
		IDs:                 opts.IDs,
		CompressionLevel:    compressionLevels[opts.CompressionLevel],
		KeepBackups:         opts.KeepBackups,
		KeepMacrosAndVars:   opts.KeepMacrosAndVars,
		KeepSliceStatistics: opts.KeepSliceStatistics,
		OverwriteExisting:   opts.OverwriteExisting,
		Dicts:               opts.Dicts,
		UsedDicts:           opts.UsedDicts,
		UsedParsers:         opts.UsedParsers,
	}

	if len(req.IDs) == 0 {
		req.IDs = []string{projectUUID}
	}

	if req.Dicts == nil {
		req.Dicts = map[string]any{}
	}

	if req.UsedDicts == nil {
		req.UsedDicts = map[string]any{}
	}

	if req.UsedParsers == nil {
		req.UsedParsers = []string{}
	}

	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return req, nil
}

// Export starts exporting the project to fileName on the server's file
// system. fileName may use PolyAnalyst folder aliases.
func (p *Project) Export(ctx context.Context, fileName string, opts ExportOptions) (asyncop.Operation, error) {
	req, err := newExportRequest(p.uuid, fileName, opts)
	if err != nil {
		return asyncop.Operation{}, err
	}

	return p.c.start(ctx, asyncop.KindExport, "project/export", req)
}

// ExportStatus fetches the status of an export once.
func (p *Project) ExportStatus(ctx context.Context, exportID string) (OperationStatus, error) {
	return p.c.OperationStatus(ctx, asyncop.Operation{ID: exportID, Kind: asyncop.KindExport})
}

// WaitExport polls an export to a terminal state.
func (p *Project) WaitExport(ctx context.Context, exportID string) (OperationStatus, error) {
	return p.c.WaitOperation(ctx, asyncop.Operation{ID: exportID, Kind: asyncop.KindExport})
}
