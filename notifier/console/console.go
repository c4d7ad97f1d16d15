package console

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/liweiyi88/onebackup/jobresult"
)

type Console struct {
	out io.Writer
}

func New() *Console {
	return &Console{out: os.Stdout}
}

func NewWithWriter(out io.Writer) *Console {
	return &Console{out: out}
}

func (console *Console) Notify(ctx context.Context, results []*jobresult.JobResult) error {
	for _, result := range results {
		if _, err := fmt.Fprintln(console.out, result.String()); err != nil {
			return err
		}
	}

	return nil
}
