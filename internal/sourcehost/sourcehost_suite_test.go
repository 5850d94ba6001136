package sourcehost_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSourceHost(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Source-host client")
}
