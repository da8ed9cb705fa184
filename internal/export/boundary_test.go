package export_test

import (
	"testing"

	"cyclekeeper/testutil"
)

func TestExportUsesBlobFacade(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "exports write through cyclekeeper/internal/blob")
}
