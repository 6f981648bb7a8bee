package iris_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestIris(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
