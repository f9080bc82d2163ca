package main

import (
	"bytes"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/glmlink/internal/device"
	"github.com/srg/glmlink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite swaps the radio for fakes and restores flags between tests.
type CommandTestSuite struct {
	suite.Suite
	Scanner   *testutils.FakeScanner
	Connector *testutils.MockConnector

	originalRadio func(*logrus.Logger) (device.Scanner, device.Connector)
}

func (s *CommandTestSuite) SetupTest() {
	s.Scanner = &testutils.FakeScanner{}
	s.Connector = &testutils.MockConnector{}

	s.originalRadio = newRadio
	newRadio = func(*logrus.Logger) (device.Scanner, device.Connector) {
		return s.Scanner, s.Connector
	}
}

func (s *CommandTestSuite) TearDownTest() {
	newRadio = s.originalRadio
	resetFlags(rootCmd)
}

// ExecuteCommand runs a cobra command with args, returns stdout and stderr.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// resetFlags restores every flag of cmd and its children to its default so
// one test's arguments never leak into the next.
func resetFlags(cmd *cobra.Command) {
	for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
		fs.VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
