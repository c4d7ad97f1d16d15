package dumper

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/liweiyi88/onebackup/backup"
)

const (
	DefaultRowsPerInsert = 100
	maxInsertSize        = 1024 * 1024
	generatedAtLayout    = "2006-01-02T15:04:05-0700"
	tableTypeView        = "VIEW"
)

var sqlEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"\x00", "\\0",
	"\n", "\\n",
	"\r", "\\r",
	"\x1a", "\\Z",
	"'", "\\'",
	"\"", "\\\"",
)

// MysqlNativeDump writes a line oriented dump using plain queries, no mysqldump binary is needed.
// Every statement it writes fits on one line, which is what the restore expects.
type MysqlNativeDump struct {
	rowsPerInsert    int
	skipAddDropTable bool
	now              func() time.Time
}

type Option func(mysql *MysqlNativeDump)

// Number of rows grouped in one INSERT statement.
func WithRowsPerInsert(rows int) Option {
	return func(mysql *MysqlNativeDump) {
		if rows > 0 {
			mysql.rowsPerInsert = rows
		}
	}
}

func WithSkipAddDropTable() Option {
	return func(mysql *MysqlNativeDump) {
		mysql.skipAddDropTable = true
	}
}

func WithClock(now func() time.Time) Option {
	return func(mysql *MysqlNativeDump) {
		mysql.now = now
	}
}

func NewMysqlNativeDump(opts ...Option) *MysqlNativeDump {
	mysql := &MysqlNativeDump{
		rowsPerInsert: DefaultRowsPerInsert,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(mysql)
	}

	return mysql
}

type schemaObject struct {
	name      string
	tableType string
}

// Dump writes the database to the backup file of the config, gzip compressed when its name ends with .gz.
// A partially written file is left in place when it fails.
func (mysql *MysqlNativeDump) Dump(ctx context.Context, conn backup.Connection, config backup.CreateConfig) (err error) {
	target := config.Backup()

	file, err := os.Create(target.Filepath())
	if err != nil {
		return fmt.Errorf("fail to create the dump file %s, error: %v", target.Filepath(), err)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("fail to close the dump file, error: %v", closeErr)
		}
	}()

	var storage io.Writer = file

	if target.Gzipped() {
		gzipWriter := gzip.NewWriter(file)

		defer func() {
			if closeErr := gzipWriter.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("fail to close gzip writer, error: %v", closeErr)
			}
		}()

		storage = gzipWriter
	}

	buf := bufio.NewWriter(storage)

	if err := mysql.dump(ctx, conn, config, buf); err != nil {
		return err
	}

	if err := buf.Flush(); err != nil {
		return fmt.Errorf("fail to write the dump file, error: %v", err)
	}

	return nil
}

func (mysql *MysqlNativeDump) dump(ctx context.Context, conn backup.Connection, config backup.CreateConfig, buf *bufio.Writer) error {
	objects, err := mysql.getSchemaObjects(ctx, conn)
	if err != nil {
		return err
	}

	charSet, err := mysql.getCharacterSet(ctx, conn)
	if err != nil {
		return err
	}

	mysql.writeHeader(buf, charSet)

	views := make([]string, 0)

	for _, object := range objects {
		if config.IgnoresTable(object.name) {
			slog.Debug("skip ignored table", slog.String("table", object.name))
			continue
		}

		if object.tableType == tableTypeView {
			views = append(views, object.name)
			continue
		}

		if err := mysql.writeTableStructure(ctx, conn, buf, object.name); err != nil {
			return err
		}

		if err := mysql.writeTableContent(ctx, conn, buf, object.name); err != nil {
			return err
		}
	}

	// views may select from any table so they come last
	for _, view := range views {
		if err := mysql.writeView(ctx, conn, buf, view); err != nil {
			return err
		}
	}

	mysql.writeFooter(buf)

	return nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		slog.Error("failed to close rows", slog.Any("error", err))
	}
}

func (mysql *MysqlNativeDump) getCharacterSet(ctx context.Context, conn backup.Connection) (string, error) {
	rows, err := conn.Query(ctx, "SHOW VARIABLES LIKE 'character_set_database'")
	if err != nil {
		return "", fmt.Errorf("failed to query character set, err: %v", err)
	}

	defer closeRows(rows)

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", fmt.Errorf("failed to read character set, err: %v", err)
		}

		return "", errors.New("failed to read character set, no result")
	}

	var variableName, characterSet string
	if err := rows.Scan(&variableName, &characterSet); err != nil {
		return "", fmt.Errorf("failed to scan character set, err: %v", err)
	}

	return characterSet, nil
}

func (mysql *MysqlNativeDump) getSchemaObjects(ctx context.Context, conn backup.Connection) ([]schemaObject, error) {
	rows, err := conn.Query(ctx, "SHOW FULL TABLES")
	if err != nil {
		return nil, fmt.Errorf("failed to query all tables, err: %v", err)
	}

	defer closeRows(rows)

	var objects []schemaObject

	for rows.Next() {
		var object schemaObject

		if err := rows.Scan(&object.name, &object.tableType); err != nil {
			return nil, fmt.Errorf("failed to scan tables, err: %v", err)
		}

		objects = append(objects, object)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get all tables, err: %v", err)
	}

	return objects, nil
}

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Multi line DDL is folded into a single line, indentation included.
func singleLine(statement string) string {
	lines := strings.Split(strings.ReplaceAll(statement, "\r\n", "\n"), "\n")

	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}

	return strings.Join(lines, " ")
}

func (mysql *MysqlNativeDump) writeHeader(buf *bufio.Writer, charSet string) {
	buf.WriteString(backup.Header + "\n")
	buf.WriteString("-- Generated at " + mysql.now().Format(generatedAtLayout) + "\n")
	buf.WriteString("SET NAMES " + charSet + ";\n")
	buf.WriteString("SET FOREIGN_KEY_CHECKS = 0;\n")
}

func (mysql *MysqlNativeDump) writeFooter(buf *bufio.Writer) {
	buf.WriteString("\n")
	buf.WriteString("SET FOREIGN_KEY_CHECKS = 1;\n")
}

func (mysql *MysqlNativeDump) writeTableStructure(ctx context.Context, conn backup.Connection, buf *bufio.Writer, table string) error {
	rows, err := conn.Query(ctx, "SHOW CREATE TABLE "+quoteIdentifier(table))
	if err != nil {
		return fmt.Errorf("failed to query create table structure for table: %s, error: %v", table, err)
	}

	defer closeRows(rows)

	if !rows.Next() {
		return fmt.Errorf("failed to read create table structure for table: %s, error: %v", table, rows.Err())
	}

	var name, createTable string
	if err := rows.Scan(&name, &createTable); err != nil {
		return fmt.Errorf("failed to scan create table structure for table: %s, error: %v", table, err)
	}

	buf.WriteString("\n")
	buf.WriteString(backup.StructureMarker + " " + table + "\n")

	if !mysql.skipAddDropTable {
		buf.WriteString("DROP TABLE IF EXISTS " + quoteIdentifier(table) + ";\n")
	}

	buf.WriteString(singleLine(createTable) + ";\n")

	return nil
}

func (mysql *MysqlNativeDump) writeView(ctx context.Context, conn backup.Connection, buf *bufio.Writer, view string) error {
	rows, err := conn.Query(ctx, "SHOW CREATE VIEW "+quoteIdentifier(view))
	if err != nil {
		return fmt.Errorf("failed to query create view for view: %s, error: %v", view, err)
	}

	defer closeRows(rows)

	if !rows.Next() {
		return fmt.Errorf("failed to read create view for view: %s, error: %v", view, rows.Err())
	}

	var name, createView, charSet, collation string
	if err := rows.Scan(&name, &createView, &charSet, &collation); err != nil {
		return fmt.Errorf("failed to scan create view for view: %s, error: %v", view, err)
	}

	buf.WriteString("\n")
	buf.WriteString(backup.ViewMarker + " " + view + "\n")
	buf.WriteString("DROP VIEW IF EXISTS " + quoteIdentifier(view) + ";\n")
	buf.WriteString(singleLine(createView) + ";\n")

	return nil
}

func (mysql *MysqlNativeDump) writeTableContent(ctx context.Context, conn backup.Connection, buf *bufio.Writer, table string) error {
	results, err := conn.Query(ctx, "SELECT * FROM "+quoteIdentifier(table))
	if err != nil {
		return fmt.Errorf("failed to query table: %s, err: %v", table, err)
	}

	defer closeRows(results)

	columnTypes, err := results.ColumnTypes()
	if err != nil {
		return fmt.Errorf("failed to get column types of table: %s, err: %v", table, err)
	}

	columns := make([]string, len(columnTypes))
	for i, columnType := range columnTypes {
		columns[i] = quoteIdentifier(columnType.Name())
	}

	insertPrefix := "INSERT INTO " + quoteIdentifier(table) + " (" + strings.Join(columns, ", ") + ") VALUES "

	row := make([]sql.RawBytes, len(columnTypes))
	dest := make([]any, len(columnTypes))
	for i := range row {
		dest[i] = &row[i]
	}

	var statement strings.Builder
	rowsInStatement := 0

	flush := func() {
		if rowsInStatement == 0 {
			return
		}

		buf.WriteString(statement.String() + ";\n")
		statement.Reset()
		rowsInStatement = 0
	}

	buf.WriteString(backup.DataMarker + " " + table + "\n")

	for results.Next() {
		if err := results.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan row of table: %s, err: %v", table, err)
		}

		if rowsInStatement == 0 {
			statement.WriteString(insertPrefix)
		} else {
			statement.WriteString(",")
		}

		statement.WriteString("(")
		for i, value := range row {
			if i > 0 {
				statement.WriteString(",")
			}

			statement.WriteString(formatValue(value, columnTypes[i].DatabaseTypeName()))
		}
		statement.WriteString(")")

		rowsInStatement++

		if rowsInStatement >= mysql.rowsPerInsert || statement.Len() >= maxInsertSize {
			flush()
		}
	}

	if err := results.Err(); err != nil {
		return fmt.Errorf("failed to read rows of table: %s, err: %v", table, err)
	}

	flush()

	return nil
}

// Render a column value as a SQL literal that never spans more than one line.
func formatValue(value sql.RawBytes, databaseType string) string {
	if value == nil {
		return "NULL"
	}

	switch strings.TrimPrefix(strings.ToUpper(databaseType), "UNSIGNED ") {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "DECIMAL", "FLOAT", "DOUBLE", "YEAR":
		return string(value)
	case "BINARY", "VARBINARY", "TINYBLOB", "BLOB", "MEDIUMBLOB", "LONGBLOB", "BIT", "GEOMETRY":
		if len(value) == 0 {
			return "''"
		}

		return "0x" + hex.EncodeToString(value)
	default:
		return "'" + sqlEscaper.Replace(string(value)) + "'"
	}
}

var _ backup.Dumper = (*MysqlNativeDump)(nil)
