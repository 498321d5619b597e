package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

type fixedIDs string

func (f fixedIDs) NewID() (string, error) { return string(f), nil }

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

func sampleRecord() icp.Record {
	return icp.Record{
		Domain:        "example.cn",
		OwnerName:     "北京示例科技有限公司",
		OwnerType:     "企业",
		CertificateID: "京ICP备20000001号-1",
		SiteName:      "示例官网",
		Homepage:      "www.example.cn example.cn",
		RegisteredAt:  "2020-01-01",
	}
}

func TestRecordSinkInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewRecordSink(mock, "", fixedIDs("0190-uuid-v7"))
	require.NoError(t, err)

	rec := sampleRecord()
	mock.ExpectExec("INSERT INTO icp_records").
		WithArgs(
			"0190-uuid-v7",
			rec.Domain,
			rec.OwnerName,
			rec.OwnerType,
			rec.CertificateID,
			rec.SiteName,
			rec.Homepage,
			rec.RegisteredAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.Write(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSinkKeepsExistingID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewRecordSink(mock, "registrations", failingIDs{})
	require.NoError(t, err)

	rec := sampleRecord()
	rec.ID = "preassigned"
	mock.ExpectExec("INSERT INTO registrations").
		WithArgs(append([]any{"preassigned"}, anyArgs(7)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.Write(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSinkWrapsFailures(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewRecordSink(mock, "", fixedIDs("id"))
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO icp_records").
		WithArgs(anyArgs(8)...).
		WillReturnError(errors.New("duplicate key"))
	err = sink.Write(context.Background(), sampleRecord())
	require.ErrorIs(t, err, icp.ErrWrite)
	require.ErrorContains(t, err, "duplicate key")

	idSink, err := NewRecordSink(mock, "", failingIDs{})
	require.NoError(t, err)
	require.ErrorIs(t, idSink.Write(context.Background(), sampleRecord()), icp.ErrWrite)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSinkEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewRecordSink(mock, "", fixedIDs("id"))
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS icp_records").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, sink.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecordSinkValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRecordSink(nil, "", fixedIDs("id"))
	require.Error(t, err)
	_, err = NewRecordSink(mock, "", nil)
	require.Error(t, err)
	_, err = NewRecordSink(mock, "bad-name;drop", fixedIDs("id"))
	require.ErrorContains(t, err, "invalid table name")
}

func TestRecordSinkCloseOnce(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	sink, err := NewRecordSink(mock, "", fixedIDs("id"))
	require.NoError(t, err)
	mock.ExpectClose()
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPoolRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPool(context.Background(), PoolConfig{})
	require.ErrorContains(t, err, "dsn")
	_, err = NewPool(context.Background(), PoolConfig{DSN: "://not a dsn"})
	require.ErrorContains(t, err, "parse postgres dsn")
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}
