package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/devbot/devbotctl/internal/build"
	"github.com/devbot/devbotctl/internal/cmd/common"
	"github.com/devbot/devbotctl/internal/config"
	"github.com/devbot/devbotctl/internal/iostreams"
)

type MockHelper struct {
	GetCmdMock          func() *cobra.Command
	GetArgsMock         func() []string
	GetStreamsMock      func() *iostreams.IOStreams
	GetConfigMock       func() (config.Hook, error)
	GetOutputFormatMock func() (common.OutputFormat, error)
	GetLoggerMock       func() (*slog.Logger, error)
	GetBuildInfoMock    func() (*build.Info, error)
	GetContextMock      func() context.Context
}

func (m *MockHelper) GetCmd() *cobra.Command {
	return m.GetCmdMock()
}

func (m *MockHelper) GetArgs() []string {
	return m.GetArgsMock()
}

func (m *MockHelper) GetStreams() *iostreams.IOStreams {
	return m.GetStreamsMock()
}

func (m *MockHelper) GetConfig() (config.Hook, error) {
	return m.GetConfigMock()
}

func (m *MockHelper) GetOutputFormat() (common.OutputFormat, error) {
	return m.GetOutputFormatMock()
}

func (m *MockHelper) GetLogger() (*slog.Logger, error) {
	return m.GetLoggerMock()
}

func (m *MockHelper) GetBuildInfo() (*build.Info, error) {
	return m.GetBuildInfoMock()
}

func (m *MockHelper) GetContext() context.Context {
	if m.GetContextMock != nil {
		return m.GetContextMock()
	}
	return context.Background()
}
