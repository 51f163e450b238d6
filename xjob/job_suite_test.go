package xjob_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestJobManager(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
