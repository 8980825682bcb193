package auth

import (
	"fmt"
	"strings"
)

// ShowSecurityTokenGuide explains where the Salesforce login values come from
func ShowSecurityTokenGuide() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("📚 SALESFORCE LOGIN GUIDE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	fmt.Println("attachdl logs in through the SOAP login endpoint with a username,")
	fmt.Println("a password and, outside trusted IP ranges, a security token.")
	fmt.Println()

	fmt.Println("👤 STEP 1: Pick the integration user")
	fmt.Println("   - The user needs the \"View All Data\" permission or read access")
	fmt.Println("     to every object that owns attachments")
	fmt.Println("   - \"API Enabled\" must be checked on its profile")
	fmt.Println()

	fmt.Println("🔑 STEP 2: Reset the security token")
	fmt.Println("   - Log in as that user")
	fmt.Println("   - Avatar → Settings → My Personal Information → Reset My Security Token")
	fmt.Println("   - The token arrives by email")
	fmt.Println()

	fmt.Println("🌐 STEP 3: Choose the login host")
	fmt.Println("   - Production and developer orgs: https://login.salesforce.com")
	fmt.Println("   - Sandboxes: https://test.salesforce.com")
	fmt.Println("   - My Domain logins: https://<domain>.my.salesforce.com")
	fmt.Println()

	fmt.Println("💾 STEP 4: Save the login")
	fmt.Println("   attachdl auth login you@example.com")
	fmt.Println("   or export ATTACHDL_USERNAME, ATTACHDL_PASSWORD and ATTACHDL_SECURITY_TOKEN")
	fmt.Println()

	fmt.Println("⚠️  SECURITY:")
	fmt.Println("   • The token changes whenever the password is reset")
	fmt.Println("   • Stored logins go to the OS keyring or an encrypted file")
	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()
}

// ShowQuickLoginGuide shows a condensed version for experienced users
func ShowQuickLoginGuide() {
	fmt.Println("\n🔑 Quick Guide: Settings → My Personal Information → Reset My Security Token")
	fmt.Println("   Need: username, password and security token")
	fmt.Println("   Type 'help' for detailed instructions")
}
