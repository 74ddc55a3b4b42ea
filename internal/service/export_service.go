package service

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sister-kampus/sister-api/internal/krs"
	"github.com/sister-kampus/sister-api/internal/models"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
	"github.com/sister-kampus/sister-api/pkg/export"
	"github.com/sister-kampus/sister-api/pkg/storage"
)

// ExportFormat selects the rendered output type.
type ExportFormat string

const (
	ExportFormatPDF ExportFormat = "pdf"
	ExportFormatCSV ExportFormat = "csv"
)

// ExportResult is a rendered document ready for download. When an
// archive is configured the document is also retained server-side and
// ShareToken grants time-limited unauthenticated access to that copy.
type ExportResult struct {
	FileName       string
	ContentType    string
	Content        []byte
	ShareToken     string
	ShareExpiresAt time.Time
}

type exportLedger interface {
	ListByStudent(ctx context.Context, studentID, semester string) ([]models.EnrollmentDetail, error)
	ListGraded(ctx context.Context, studentID string) ([]models.TranscriptRow, error)
}

// ExportService renders downloadable study-plan cards and transcripts.
type ExportService struct {
	ledger   exportLedger
	students studentReader
	archive  *storage.Archive
	signer   *storage.ShareSigner
	pdf      *export.PDFExporter
	csv      *export.CSVExporter
	logger   *zap.Logger
}

// NewExportService constructs ExportService. Archive and signer may be
// nil; documents are then streamed without a retained copy or share link.
func NewExportService(ledger exportLedger, students studentReader, archive *storage.Archive, signer *storage.ShareSigner, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		ledger:   ledger,
		students: students,
		archive:  archive,
		signer:   signer,
		pdf:      export.NewPDFExporter(),
		csv:      export.NewCSVExporter(),
		logger:   logger,
	}
}

// StudyPlanCard renders the KRS card: the student's committed schedule
// set for a semester with the credit total.
func (s *ExportService) StudyPlanCard(ctx context.Context, studentID, semester string, format ExportFormat) (*ExportResult, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	details, err := s.ledger.ListByStudent(ctx, studentID, semester)
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no enrollments for semester")
	}

	headers := []string{"Code", "Course", "Credits", "Day", "Time", "Room", "Status"}
	rows := make([]map[string]string, 0, len(details)+1)
	total := 0
	for _, d := range details {
		total += d.Credits
		rows = append(rows, map[string]string{
			"Code":    d.CourseCode,
			"Course":  d.CourseName,
			"Credits": strconv.Itoa(d.Credits),
			"Day":     d.DayOfWeek,
			"Time":    d.StartTime + "-" + d.EndTime,
			"Room":    d.Room,
			"Status":  string(d.Status),
		})
	}
	rows = append(rows, map[string]string{"Course": "Total credits", "Credits": strconv.Itoa(total)})

	title := fmt.Sprintf("Study Plan Card - %s (%s) - %s", student.FullName, student.NIM, semester)
	name := fmt.Sprintf("krs_%s_%s", student.NIM, semester)
	return s.render(export.Dataset{Headers: headers, Rows: rows}, title, name, student.NIM, format)
}

// TranscriptExport renders the graded transcript with grade points.
func (s *ExportService) TranscriptExport(ctx context.Context, studentID string, format ExportFormat) (*ExportResult, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	transcript, err := s.ledger.ListGraded(ctx, studentID)
	if err != nil {
		return nil, err
	}

	headers := []string{"Code", "Course", "Credits", "Semester", "Grade", "Points"}
	rows := make([]map[string]string, 0, len(transcript))
	for _, row := range transcript {
		record := map[string]string{
			"Code":     row.CourseCode,
			"Course":   row.CourseName,
			"Credits":  strconv.Itoa(row.Credits),
			"Semester": row.Semester,
		}
		if row.Grade != nil {
			record["Grade"] = strconv.FormatFloat(*row.Grade, 'f', 1, 64)
			record["Points"] = strconv.FormatFloat(krs.Round2(krs.GradePoint(*row.Grade)), 'f', 2, 64)
		}
		rows = append(rows, record)
	}

	title := fmt.Sprintf("Transcript - %s (%s)", student.FullName, student.NIM)
	name := fmt.Sprintf("transcript_%s", student.NIM)
	return s.render(export.Dataset{Headers: headers, Rows: rows}, title, name, student.NIM, format)
}

// SharedDocument resolves a share token to the archived document it
// grants access to.
func (s *ExportService) SharedDocument(token string) (*ExportResult, error) {
	if s.archive == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document sharing is not enabled")
	}
	relPath, err := s.signer.Verify(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired share link")
	}
	content, err := s.archive.Read(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document no longer available")
	}
	name := path.Base(relPath)
	contentType := "application/pdf"
	if strings.HasSuffix(name, ".csv") {
		contentType = "text/csv"
	}
	return &ExportResult{FileName: name, ContentType: contentType, Content: content}, nil
}

func (s *ExportService) render(data export.Dataset, title, name, nim string, format ExportFormat) (*ExportResult, error) {
	var result *ExportResult
	switch format {
	case ExportFormatCSV:
		content, err := s.csv.Render(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		result = &ExportResult{FileName: name + ".csv", ContentType: "text/csv", Content: content}
	case ExportFormatPDF, "":
		content, err := s.pdf.Render(data, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		result = &ExportResult{FileName: name + ".pdf", ContentType: "application/pdf", Content: content}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be pdf or csv")
	}

	if s.archive != nil && s.signer != nil {
		relPath := path.Join(nim, result.FileName)
		if err := s.archive.Save(relPath, result.Content); err != nil {
			s.logger.Warn("failed to archive document", zap.String("path", relPath), zap.Error(err))
			return result, nil
		}
		token, expiresAt, err := s.signer.Issue(relPath)
		if err != nil {
			s.logger.Warn("failed to sign share link", zap.String("path", relPath), zap.Error(err))
			return result, nil
		}
		result.ShareToken = token
		result.ShareExpiresAt = expiresAt
	}
	return result, nil
}
